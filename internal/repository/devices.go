package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/septivank/thinq-energy-sync/internal/db"
)

// GetDevice returns the registered device with the given id, or nil if the
// device is not registered.
func (r *Repository) GetDevice(ctx context.Context, deviceID string) (*db.Device, error) {
	query := `
		SELECT id, device_type, model_name, alias
		FROM devices
		WHERE id = $1
	`

	var device db.Device
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(
		&device.ID,
		&device.DeviceType,
		&device.ModelName,
		&device.Alias,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}

	return &device, nil
}

// ListDevices returns all registered devices
func (r *Repository) ListDevices(ctx context.Context) ([]db.Device, error) {
	query := `
		SELECT id, device_type, model_name, alias
		FROM devices
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []db.Device
	for rows.Next() {
		var device db.Device
		if err := rows.Scan(&device.ID, &device.DeviceType, &device.ModelName, &device.Alias); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return devices, nil
}

// BulkInsertDevices registers devices, skipping ids that already exist
func (r *Repository) BulkInsertDevices(ctx context.Context, devices []db.Device) error {
	if len(devices) == 0 {
		return nil
	}

	query := `
		INSERT INTO devices (id, device_type, model_name, alias)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, device := range devices {
		batch.Queue(query, device.ID, device.DeviceType, device.ModelName, device.Alias)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range devices {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert device: %w", err)
		}
	}

	return nil
}
