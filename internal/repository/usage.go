package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/septivank/thinq-energy-sync/internal/db"
)

// InsertEnergyUsage persists a single usage record. A record for an existing
// (device_id, used_date) pair is a silent no-op.
func (r *Repository) InsertEnergyUsage(ctx context.Context, usage db.EnergyUsage) error {
	query := `
		INSERT INTO energy_consumption (device_id, used_date, energy_wh)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query, usage.DeviceID, usage.UsedDate, usage.EnergyWh)
	if err != nil {
		return fmt.Errorf("failed to insert energy usage: %w", err)
	}

	return nil
}

// BulkInsertEnergyUsage persists usage records and returns the number of
// rows actually written. Already-stored (device_id, used_date) pairs are
// skipped, which makes re-running a failed chunk safe.
func (r *Repository) BulkInsertEnergyUsage(ctx context.Context, records []db.EnergyUsage) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO energy_consumption (device_id, used_date, energy_wh)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, record := range records {
		batch.Queue(query, record.DeviceID, record.UsedDate, record.EnergyWh)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range records {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert energy usage: %w", err)
		}
		inserted += tag.RowsAffected()
	}

	return inserted, nil
}
