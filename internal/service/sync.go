package service

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/thinq-energy-sync/internal/daterange"
	"github.com/septivank/thinq-energy-sync/internal/db"
	"github.com/septivank/thinq-energy-sync/internal/logging"
	"github.com/septivank/thinq-energy-sync/internal/mq"
	"go.uber.org/zap"
)

// Outcome is the terminal state of one sync invocation
type Outcome int

const (
	// OutcomeSynced means the full pending window was fetched and persisted.
	OutcomeSynced Outcome = iota
	// OutcomeNothingToDo means the watermark is already at yesterday.
	OutcomeNothingToDo
	// OutcomeUnknownDevice means the device id is not in the registry.
	OutcomeUnknownDevice
	// OutcomeContended means another worker holds the device lock.
	OutcomeContended
	// OutcomeFailed means a chunk failed; progress up to it is kept.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSynced:
		return "synced"
	case OutcomeNothingToDo:
		return "nothing-to-do"
	case OutcomeUnknownDevice:
		return "unknown-device"
	case OutcomeContended:
		return "contended"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DeviceStore reads registered device metadata
type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*db.Device, error)
}

// WatermarkStore persists per-device sync progress
type WatermarkStore interface {
	GetReadLog(ctx context.Context, deviceID string) (*db.ReadLog, error)
	CreateReadLog(ctx context.Context, deviceID string, startDate time.Time) error
	AdvanceReadLog(ctx context.Context, deviceID string, endDate time.Time) error
}

// UsageFetcher pulls daily usage from the vendor for a bounded date range
type UsageFetcher interface {
	GetEnergyUsage(ctx context.Context, deviceID string, start, end time.Time) ([]db.EnergyUsage, error)
}

// UsageSink persists usage records idempotently
type UsageSink interface {
	BulkInsertEnergyUsage(ctx context.Context, records []db.EnergyUsage) (int64, error)
}

// Unlocker releases a held device lock
type Unlocker interface {
	Release(ctx context.Context)
}

// DeviceLocker takes per-device locks without blocking
type DeviceLocker interface {
	TryAcquire(ctx context.Context, deviceID string) (Unlocker, bool, error)
}

// SyncService drives one device's incremental sync: lock, compute the
// pending window from the read log, then fetch-persist-advance per chunk.
type SyncService struct {
	devices      DeviceStore
	watermarks   WatermarkStore
	fetcher      UsageFetcher
	sink         UsageSink
	locker       DeviceLocker
	defaultStart time.Time
	maxSpanDays  int
	logger       *zap.Logger
	now          func() time.Time
}

// NewSyncService creates a new sync service
func NewSyncService(
	devices DeviceStore,
	watermarks WatermarkStore,
	fetcher UsageFetcher,
	sink UsageSink,
	locker DeviceLocker,
	defaultStart time.Time,
	maxSpanDays int,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		devices:      devices,
		watermarks:   watermarks,
		fetcher:      fetcher,
		sink:         sink,
		locker:       locker,
		defaultStart: defaultStart,
		maxSpanDays:  maxSpanDays,
		logger:       logger,
		now:          time.Now,
	}
}

// Run performs one sync invocation for a device. A failed chunk aborts the
// loop; committed chunks stay committed and the next invocation resumes from
// the watermark. The lock is released on every path out of the invocation.
func (s *SyncService) Run(ctx context.Context, deviceID string) (Outcome, error) {
	unlock, acquired, err := s.locker.TryAcquire(ctx, deviceID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to acquire device lock: %w", err)
	}
	if !acquired {
		s.logger.Info("device locked by another worker", zap.String("device_id", deviceID))
		return OutcomeContended, nil
	}
	defer unlock.Release(ctx)

	return s.sync(ctx, deviceID)
}

func (s *SyncService) sync(ctx context.Context, deviceID string) (Outcome, error) {
	logger := logging.WithDeviceID(s.logger, deviceID)

	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to load device: %w", err)
	}
	if device == nil {
		// Requeueing an unregistered id would loop forever; drop it.
		logger.Error("device not registered, discarding sync request")
		return OutcomeUnknownDevice, nil
	}

	yesterday := s.yesterday()
	start, end, err := s.pendingWindow(ctx, deviceID, yesterday)
	if err != nil {
		return OutcomeFailed, err
	}
	if start.After(end) {
		logger.Info("no new data to fetch",
			zap.String("watermark", start.AddDate(0, 0, -1).Format("2006-01-02")),
		)
		return OutcomeNothingToDo, nil
	}

	for _, chunk := range daterange.Split(start, end, s.maxSpanDays) {
		logger.Info("fetching usage chunk",
			zap.String("start", chunk.Start.Format("2006-01-02")),
			zap.String("end", chunk.End.Format("2006-01-02")),
		)

		records, err := s.fetcher.GetEnergyUsage(ctx, deviceID, chunk.Start, chunk.End)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to fetch usage %s - %s: %w",
				chunk.Start.Format("2006-01-02"), chunk.End.Format("2006-01-02"), err)
		}

		inserted, err := s.sink.BulkInsertEnergyUsage(ctx, records)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to persist usage: %w", err)
		}

		// Advance only after the chunk's records are durable. These are two
		// separate statements: a crash in between re-fetches the chunk, and
		// the idempotent insert absorbs the duplicates.
		if err := s.watermarks.AdvanceReadLog(ctx, deviceID, chunk.End); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to advance read log: %w", err)
		}

		logger.Info("chunk synced",
			zap.String("through", chunk.End.Format("2006-01-02")),
			zap.Int("records", len(records)),
			zap.Int64("inserted", inserted),
		)
	}

	return OutcomeSynced, nil
}

// pendingWindow resolves the not-yet-fetched window [start, yesterday],
// creating the read log on a device's first sync.
func (s *SyncService) pendingWindow(ctx context.Context, deviceID string, yesterday time.Time) (time.Time, time.Time, error) {
	log, err := s.watermarks.GetReadLog(ctx, deviceID)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to load read log: %w", err)
	}

	if log == nil {
		if err := s.watermarks.CreateReadLog(ctx, deviceID, s.defaultStart); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("failed to create read log: %w", err)
		}
		return s.defaultStart, yesterday, nil
	}

	if log.EndDate != nil {
		return log.EndDate.AddDate(0, 0, 1), yesterday, nil
	}
	// A prior run created the log but never completed a chunk.
	return log.StartDate, yesterday, nil
}

func (s *SyncService) yesterday() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// HandleSyncRequest adapts Run to the queue consumer contract. The message
// body is the raw device id.
func (s *SyncService) HandleSyncRequest(ctx context.Context, body []byte) (mq.Disposition, error) {
	deviceID := string(body)

	outcome, err := s.Run(ctx, deviceID)
	switch outcome {
	case OutcomeContended:
		return mq.RequeueQuiet, nil
	case OutcomeFailed:
		return mq.RequeueError, err
	default:
		return mq.Ack, nil
	}
}
