package db

import (
	"fmt"
	"time"
)

// Device represents a registered LG ThinQ device
type Device struct {
	ID         string
	DeviceType string
	ModelName  string
	Alias      string
}

// EnergyUsage represents the energy a device consumed on one calendar date.
// Rows are unique per (device_id, used_date).
type EnergyUsage struct {
	DeviceID string
	UsedDate time.Time
	EnergyWh float64
}

// NewEnergyUsage builds a validated usage record
func NewEnergyUsage(deviceID string, usedDate time.Time, energyWh float64) (EnergyUsage, error) {
	if deviceID == "" {
		return EnergyUsage{}, fmt.Errorf("device_id must not be empty")
	}
	if energyWh < 0 {
		return EnergyUsage{}, fmt.Errorf("energy_wh must be non-negative, got %v", energyWh)
	}
	return EnergyUsage{
		DeviceID: deviceID,
		UsedDate: usedDate,
		EnergyWh: energyWh,
	}, nil
}

// ReadLog is the per-device sync watermark. StartDate is fixed at creation;
// EndDate is the last date for which usage has been durably persisted and is
// nil until the first chunk completes.
type ReadLog struct {
	DeviceID  string
	StartDate time.Time
	EndDate   *time.Time
}
