package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/septivank/thinq-energy-sync/internal/db"
	"github.com/septivank/thinq-energy-sync/internal/mq"
	"go.uber.org/zap"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fakeDevices struct {
	devices map[string]db.Device
}

func (f *fakeDevices) GetDevice(_ context.Context, deviceID string) (*db.Device, error) {
	if device, ok := f.devices[deviceID]; ok {
		return &device, nil
	}
	return nil, nil
}

type fakeWatermarks struct {
	logs     map[string]*db.ReadLog
	creates  int
	advances []time.Time
}

func newFakeWatermarks() *fakeWatermarks {
	return &fakeWatermarks{logs: make(map[string]*db.ReadLog)}
}

func (f *fakeWatermarks) GetReadLog(_ context.Context, deviceID string) (*db.ReadLog, error) {
	return f.logs[deviceID], nil
}

func (f *fakeWatermarks) CreateReadLog(_ context.Context, deviceID string, startDate time.Time) error {
	f.creates++
	if _, exists := f.logs[deviceID]; !exists {
		f.logs[deviceID] = &db.ReadLog{DeviceID: deviceID, StartDate: startDate}
	}
	return nil
}

func (f *fakeWatermarks) AdvanceReadLog(_ context.Context, deviceID string, endDate time.Time) error {
	f.advances = append(f.advances, endDate)
	end := endDate
	f.logs[deviceID].EndDate = &end
	return nil
}

type fetchCall struct {
	start time.Time
	end   time.Time
}

type fakeFetcher struct {
	calls      []fetchCall
	failOnCall int // 1-based; 0 means never fail
}

func (f *fakeFetcher) GetEnergyUsage(_ context.Context, deviceID string, start, end time.Time) ([]db.EnergyUsage, error) {
	f.calls = append(f.calls, fetchCall{start: start, end: end})
	if f.failOnCall == len(f.calls) {
		return nil, errors.New("vendor unavailable")
	}

	var records []db.EnergyUsage
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		records = append(records, db.EnergyUsage{DeviceID: deviceID, UsedDate: d, EnergyWh: 100})
	}
	return records, nil
}

type fakeSink struct {
	rows map[string]db.EnergyUsage
	err  error
}

func newFakeSink() *fakeSink {
	return &fakeSink{rows: make(map[string]db.EnergyUsage)}
}

func (f *fakeSink) BulkInsertEnergyUsage(_ context.Context, records []db.EnergyUsage) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	var inserted int64
	for _, record := range records {
		key := record.DeviceID + "|" + record.UsedDate.Format("2006-01-02")
		if _, exists := f.rows[key]; !exists {
			f.rows[key] = record
			inserted++
		}
	}
	return inserted, nil
}

type fakeUnlocker struct {
	releases int
}

func (f *fakeUnlocker) Release(_ context.Context) {
	f.releases++
}

type fakeLocker struct {
	held     bool
	err      error
	unlocker fakeUnlocker
	acquires int
}

func (f *fakeLocker) TryAcquire(_ context.Context, _ string) (Unlocker, bool, error) {
	f.acquires++
	if f.err != nil {
		return nil, false, f.err
	}
	if f.held {
		return nil, false, nil
	}
	return &f.unlocker, true, nil
}

type fixture struct {
	service    *SyncService
	watermarks *fakeWatermarks
	fetcher    *fakeFetcher
	sink       *fakeSink
	locker     *fakeLocker
}

func newFixture(defaultStart, today time.Time, maxSpanDays int) *fixture {
	f := &fixture{
		watermarks: newFakeWatermarks(),
		fetcher:    &fakeFetcher{},
		sink:       newFakeSink(),
		locker:     &fakeLocker{},
	}
	devices := &fakeDevices{devices: map[string]db.Device{
		"device-1": {ID: "device-1", DeviceType: "AIR_CONDITIONER", ModelName: "AC-100", Alias: "Living Room"},
	}}
	f.service = NewSyncService(devices, f.watermarks, f.fetcher, f.sink, f.locker,
		defaultStart, maxSpanDays, zap.NewNop())
	f.service.now = func() time.Time { return today }
	return f
}

func TestRunFirstSyncFullWindow(t *testing.T) {
	f := newFixture(day(2025, 1, 1), day(2025, 1, 6), 30)

	outcome, err := f.service.Run(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	if outcome != OutcomeSynced {
		t.Fatalf("Expected OutcomeSynced, got %v", outcome)
	}

	if f.watermarks.creates != 1 {
		t.Errorf("Expected read log to be created once, got %d", f.watermarks.creates)
	}

	// A 5-day window fits in one vendor request.
	if len(f.fetcher.calls) != 1 {
		t.Fatalf("Expected 1 fetch call, got %d", len(f.fetcher.calls))
	}
	call := f.fetcher.calls[0]
	if !call.start.Equal(day(2025, 1, 1)) || !call.end.Equal(day(2025, 1, 5)) {
		t.Errorf("Expected fetch 2025-01-01 - 2025-01-05, got %v - %v", call.start, call.end)
	}

	if len(f.sink.rows) != 5 {
		t.Errorf("Expected 5 persisted rows, got %d", len(f.sink.rows))
	}

	log := f.watermarks.logs["device-1"]
	if log.EndDate == nil || !log.EndDate.Equal(day(2025, 1, 5)) {
		t.Errorf("Expected watermark end date 2025-01-05, got %v", log.EndDate)
	}

	if f.locker.unlocker.releases != 1 {
		t.Errorf("Expected lock released exactly once, got %d", f.locker.unlocker.releases)
	}
}

func TestRunResumesFromWatermark(t *testing.T) {
	f := newFixture(day(2025, 1, 1), day(2025, 1, 21), 30)
	end := day(2025, 1, 10)
	f.watermarks.logs["device-1"] = &db.ReadLog{DeviceID: "device-1", StartDate: day(2025, 1, 1), EndDate: &end}

	outcome, err := f.service.Run(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	if outcome != OutcomeSynced {
		t.Fatalf("Expected OutcomeSynced, got %v", outcome)
	}

	if len(f.fetcher.calls) != 1 {
		t.Fatalf("Expected 1 fetch call, got %d", len(f.fetcher.calls))
	}
	call := f.fetcher.calls[0]
	if !call.start.Equal(day(2025, 1, 11)) || !call.end.Equal(day(2025, 1, 20)) {
		t.Errorf("Expected fetch 2025-01-11 - 2025-01-20, got %v - %v", call.start, call.end)
	}

	if f.watermarks.creates != 0 {
		t.Errorf("Expected no read log creation for existing watermark, got %d", f.watermarks.creates)
	}
}

func TestRunNothingToDo(t *testing.T) {
	f := newFixture(day(2025, 1, 1), day(2025, 1, 6), 30)
	end := day(2025, 1, 5)
	f.watermarks.logs["device-1"] = &db.ReadLog{DeviceID: "device-1", StartDate: day(2025, 1, 1), EndDate: &end}

	outcome, err := f.service.Run(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	if outcome != OutcomeNothingToDo {
		t.Fatalf("Expected OutcomeNothingToDo, got %v", outcome)
	}

	if len(f.fetcher.calls) != 0 {
		t.Errorf("Expected no fetch calls, got %d", len(f.fetcher.calls))
	}
	if f.locker.unlocker.releases != 1 {
		t.Errorf("Expected lock released exactly once, got %d", f.locker.unlocker.releases)
	}
}

func TestRunNullEndDateRestartsAtStartDate(t *testing.T) {
	f := newFixture(day(2025, 1, 1), day(2025, 2, 10), 30)
	f.watermarks.logs["device-1"] = &db.ReadLog{DeviceID: "device-1", StartDate: day(2025, 2, 1)}

	outcome, err := f.service.Run(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	if outcome != OutcomeSynced {
		t.Fatalf("Expected OutcomeSynced, got %v", outcome)
	}

	if len(f.fetcher.calls) != 1 {
		t.Fatalf("Expected 1 fetch call, got %d", len(f.fetcher.calls))
	}
	if !f.fetcher.calls[0].start.Equal(day(2025, 2, 1)) {
		t.Errorf("Expected window to restart at the log's start date, got %v", f.fetcher.calls[0].start)
	}
}

func TestRunContended(t *testing.T) {
	f := newFixture(day(2025, 1, 1), day(2025, 1, 6), 30)
	f.locker.held = true

	outcome, err := f.service.Run(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("Expected no error on contention, got: %v", err)
	}
	if outcome != OutcomeContended {
		t.Fatalf("Expected OutcomeContended, got %v", outcome)
	}

	if len(f.fetcher.calls) != 0 {
		t.Errorf("Expected no fetch calls when contended, got %d", len(f.fetcher.calls))
	}
	if f.watermarks.creates != 0 {
		t.Errorf("Expected watermark untouched when contended, got %d creates", f.watermarks.creates)
	}
}

func TestRunLockError(t *testing.T) {
	f := newFixture(day(2025, 1, 1), day(2025, 1, 6), 30)
	f.locker.err = errors.New("connection refused")

	outcome, err := f.service.Run(context.Background(), "device-1")
	if err == nil {
		t.Fatal("Expected error when the lock session cannot be established")
	}
	if outcome != OutcomeFailed {
		t.Fatalf("Expected OutcomeFailed, got %v", outcome)
	}
}

func TestRunUnknownDevice(t *testing.T) {
	f := newFixture(day(2025, 1, 1), day(2025, 1, 6), 30)

	outcome, err := f.service.Run(context.Background(), "device-unknown")
	if err != nil {
		t.Fatalf("Expected no error for unknown device, got: %v", err)
	}
	if outcome != OutcomeUnknownDevice {
		t.Fatalf("Expected OutcomeUnknownDevice, got %v", outcome)
	}

	if f.watermarks.creates != 0 {
		t.Errorf("Expected no read log for unknown device, got %d creates", f.watermarks.creates)
	}
	if f.locker.unlocker.releases != 1 {
		t.Errorf("Expected lock released exactly once, got %d", f.locker.unlocker.releases)
	}
}

func TestRunPartialFailureKeepsProgress(t *testing.T) {
	// Window 2025-01-01 - 2025-01-30 with a 9-day max span gives three
	// 10-day chunks.
	f := newFixture(day(2025, 1, 1), day(2025, 1, 31), 9)
	f.fetcher.failOnCall = 2

	outcome, err := f.service.Run(context.Background(), "device-1")
	if err == nil {
		t.Fatal("Expected error from failing chunk")
	}
	if outcome != OutcomeFailed {
		t.Fatalf("Expected OutcomeFailed, got %v", outcome)
	}

	// First chunk committed, second failed, third never attempted.
	if len(f.fetcher.calls) != 2 {
		t.Fatalf("Expected 2 fetch calls, got %d", len(f.fetcher.calls))
	}
	if len(f.watermarks.advances) != 1 || !f.watermarks.advances[0].Equal(day(2025, 1, 10)) {
		t.Fatalf("Expected watermark advanced through 2025-01-10 only, got %v", f.watermarks.advances)
	}
	if f.locker.unlocker.releases != 1 {
		t.Errorf("Expected lock released despite failure, got %d releases", f.locker.unlocker.releases)
	}

	// The next invocation resumes at the failed chunk without re-requesting
	// the committed one.
	f.fetcher.failOnCall = 0
	outcome, err = f.service.Run(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("Expected resume to succeed, got error: %v", err)
	}
	if outcome != OutcomeSynced {
		t.Fatalf("Expected OutcomeSynced on resume, got %v", outcome)
	}

	resumeCall := f.fetcher.calls[2]
	if !resumeCall.start.Equal(day(2025, 1, 11)) {
		t.Errorf("Expected resume to start at 2025-01-11, got %v", resumeCall.start)
	}

	// Watermark advances never regress.
	for i := 1; i < len(f.watermarks.advances); i++ {
		if f.watermarks.advances[i].Before(f.watermarks.advances[i-1]) {
			t.Errorf("Watermark regressed: %v after %v",
				f.watermarks.advances[i], f.watermarks.advances[i-1])
		}
	}

	log := f.watermarks.logs["device-1"]
	if log.EndDate == nil || !log.EndDate.Equal(day(2025, 1, 30)) {
		t.Errorf("Expected final watermark 2025-01-30, got %v", log.EndDate)
	}
	if len(f.sink.rows) != 30 {
		t.Errorf("Expected 30 persisted rows, got %d", len(f.sink.rows))
	}
}

func TestRunSinkFailureAborts(t *testing.T) {
	f := newFixture(day(2025, 1, 1), day(2025, 1, 6), 30)
	f.sink.err = errors.New("database unavailable")

	outcome, err := f.service.Run(context.Background(), "device-1")
	if err == nil {
		t.Fatal("Expected error from failing sink")
	}
	if outcome != OutcomeFailed {
		t.Fatalf("Expected OutcomeFailed, got %v", outcome)
	}

	if len(f.watermarks.advances) != 0 {
		t.Errorf("Expected watermark not advanced past a failed persist, got %v", f.watermarks.advances)
	}
	if f.locker.unlocker.releases != 1 {
		t.Errorf("Expected lock released despite failure, got %d releases", f.locker.unlocker.releases)
	}
}

func TestHandleSyncRequestDispositions(t *testing.T) {
	f := newFixture(day(2025, 1, 1), day(2025, 1, 6), 30)

	disposition, err := f.service.HandleSyncRequest(context.Background(), []byte("device-1"))
	if disposition != mq.Ack || err != nil {
		t.Errorf("Expected Ack for successful sync, got %v (%v)", disposition, err)
	}

	f.locker.held = true
	disposition, err = f.service.HandleSyncRequest(context.Background(), []byte("device-1"))
	if disposition != mq.RequeueQuiet || err != nil {
		t.Errorf("Expected RequeueQuiet on contention, got %v (%v)", disposition, err)
	}

	f.locker.held = false
	f.locker.err = errors.New("connection refused")
	disposition, err = f.service.HandleSyncRequest(context.Background(), []byte("device-1"))
	if disposition != mq.RequeueError {
		t.Errorf("Expected RequeueError on failure, got %v", disposition)
	}
	if err == nil {
		t.Error("Expected error to accompany RequeueError")
	}

	f.locker.err = nil
	disposition, err = f.service.HandleSyncRequest(context.Background(), []byte("device-unknown"))
	if disposition != mq.Ack || err != nil {
		t.Errorf("Expected Ack for unknown device, got %v (%v)", disposition, err)
	}
}
