// Package daterange splits inclusive date intervals into chunks sized for
// the vendor API's per-request span limit.
package daterange

import "time"

// Range is an inclusive date interval.
type Range struct {
	Start time.Time
	End   time.Time
}

// Split partitions [start, end] into contiguous inclusive sub-ranges. Each
// chunk ends at most maxSpanDays after its start, so a chunk covers up to
// maxSpanDays+1 calendar dates; the next chunk starts the day after the
// previous one ends. Returns nil when start is after end.
func Split(start, end time.Time, maxSpanDays int) []Range {
	var ranges []Range
	cur := start
	for !cur.After(end) {
		chunkEnd := cur.AddDate(0, 0, maxSpanDays)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		ranges = append(ranges, Range{Start: cur, End: chunkEnd})
		cur = chunkEnd.AddDate(0, 0, 1)
	}
	return ranges
}
