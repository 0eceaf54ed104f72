// Package lock provides cross-process, per-device mutual exclusion via
// PostgreSQL advisory locks.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Key derives the 64-bit advisory lock key for a device identifier: the
// leading 8 bytes of SHA-256(deviceID), big-endian. Two distinct ids can in
// principle collide, which only serializes their syncs spuriously.
func Key(deviceID string) uint64 {
	sum := sha256.Sum256([]byte(deviceID))
	return binary.BigEndian.Uint64(sum[:8])
}

// DeviceLock acquires per-device advisory locks. Each held lock pins a
// dedicated pool connection: advisory locks are session-scoped, so if the
// worker dies the server frees the lock when the session drops.
type DeviceLock struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDeviceLock creates a device lock backed by the given pool
func NewDeviceLock(pool *pgxpool.Pool, logger *zap.Logger) *DeviceLock {
	return &DeviceLock{pool: pool, logger: logger}
}

// Handle represents a held lock. Release it exactly once per acquisition;
// extra calls are no-ops.
type Handle struct {
	conn     *pgxpool.Conn
	key      uint64
	released bool
	logger   *zap.Logger
}

// TryAcquire attempts to take the lock for a device without blocking. It
// returns (handle, true, nil) on success and (nil, false, nil) when another
// holder already has it.
func (l *DeviceLock) TryAcquire(ctx context.Context, deviceID string) (*Handle, bool, error) {
	key := Key(deviceID)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection for device lock: %w", err)
	}

	// pg advisory locks take a signed bigint; reinterpret the uint64 bits.
	var acquired bool
	err = conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", int64(key)).Scan(&acquired)
	if err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("failed to try advisory lock: %w", err)
	}

	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	l.logger.Debug("device lock acquired",
		zap.String("device_id", deviceID),
		zap.Uint64("lock_key", key),
	)

	return &Handle{conn: conn, key: key, logger: l.logger}, true, nil
}

// Release unlocks the advisory lock and returns the connection to the pool
func (h *Handle) Release(ctx context.Context) {
	if h == nil || h.released {
		return
	}
	h.released = true

	if _, err := h.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", int64(h.key)); err != nil {
		// The lock still frees when the connection's session ends.
		h.logger.Warn("failed to release advisory lock", zap.Error(err), zap.Uint64("lock_key", h.key))
	}
	h.conn.Release()
}
