package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/septivank/thinq-energy-sync/internal/db"
)

// GetReadLog returns the sync watermark for a device, or nil if the device
// has never been synced.
func (r *Repository) GetReadLog(ctx context.Context, deviceID string) (*db.ReadLog, error) {
	query := `
		SELECT device_id, start_date, end_date
		FROM energy_consumption_read_log
		WHERE device_id = $1
	`

	var log db.ReadLog
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(&log.DeviceID, &log.StartDate, &log.EndDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query read log: %w", err)
	}

	return &log, nil
}

// CreateReadLog inserts the watermark row for a device with a null end_date.
// Idempotent: a no-op if the row already exists.
func (r *Repository) CreateReadLog(ctx context.Context, deviceID string, startDate time.Time) error {
	query := `
		INSERT INTO energy_consumption_read_log (device_id, start_date, end_date)
		VALUES ($1, $2, NULL)
		ON CONFLICT (device_id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, deviceID, startDate); err != nil {
		return fmt.Errorf("failed to create read log: %w", err)
	}

	return nil
}

// AdvanceReadLog moves the watermark end_date forward. Callers must pass a
// date that is >= the currently stored end_date.
func (r *Repository) AdvanceReadLog(ctx context.Context, deviceID string, endDate time.Time) error {
	query := `
		UPDATE energy_consumption_read_log
		SET end_date = $1, read_timestamp = NOW()
		WHERE device_id = $2
	`

	if _, err := r.pool.Exec(ctx, query, endDate, deviceID); err != nil {
		return fmt.Errorf("failed to advance read log: %w", err)
	}

	return nil
}
