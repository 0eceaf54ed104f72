package thinq

import (
	"fmt"
	"time"
)

// InvalidRangeError reports a fetch range that is negative or wider than the
// vendor's 30-day limit. It is raised before any network call.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid date range: %s - %s (span must be 0-30 days)",
		e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"))
}

// VendorRejectedError reports a non-normal result code from the ThinQ API,
// recognized or not.
type VendorRejectedError struct {
	Code string
}

func (e *VendorRejectedError) Error() string {
	if name, ok := resultCodeNames[e.Code]; ok {
		return fmt.Sprintf("thinq api rejected request: %s (code %s)", name, e.Code)
	}
	return fmt.Sprintf("thinq api returned unrecognized result code %s", e.Code)
}

// VendorUnavailableError reports a transport-level failure reaching the
// ThinQ API: a failed request or a non-success HTTP status.
type VendorUnavailableError struct {
	StatusCode int
	Err        error
}

func (e *VendorUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("thinq api unreachable: %v", e.Err)
	}
	return fmt.Sprintf("thinq api returned HTTP status %d", e.StatusCode)
}

func (e *VendorUnavailableError) Unwrap() error {
	return e.Err
}
