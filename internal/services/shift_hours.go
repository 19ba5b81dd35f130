package services

import (
	"sort"
	"time"

	"github.com/greenfelt/backend/internal/models"
)

// Interval is a half-open span of wall-clock time used for shift hours.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Hours() float64 {
	if !iv.End.After(iv.Start) {
		return 0
	}
	return iv.End.Sub(iv.Start).Hours()
}

// MergeIntervals collapses overlapping and touching intervals so that
// concurrent shifts are not double-counted.
func MergeIntervals(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := make([]Interval, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

func sumHours(in []Interval) float64 {
	var total float64
	for _, iv := range in {
		total += iv.Hours()
	}
	return total
}

// clipAssignment resolves an assignment to a concrete interval. An open
// shift runs until now; a shift on a closed session never runs past the
// session close.
func clipAssignment(started time.Time, ended, sessionClosed *time.Time, now time.Time) Interval {
	end := now
	if ended != nil {
		end = *ended
	}
	if sessionClosed != nil && sessionClosed.Before(end) {
		end = *sessionClosed
	}
	if end.Before(started) {
		end = started
	}
	return Interval{Start: started, End: end}
}

// DealerHours sums dealer shift time. Dealer assignments are exclusive,
// so plain summation cannot double-count.
func DealerHours(assignments []models.DealerAssignment, closedAt map[string]*time.Time, now time.Time) float64 {
	var total float64
	for _, a := range assignments {
		total += clipAssignment(a.StartedAt, a.EndedAt, closedAt[a.SessionID], now).Hours()
	}
	return total
}

// WaiterHours sums waiter shift time with overlaps merged: a waiter
// covering two tables at once is paid for the covered span, not twice.
func WaiterHours(assignments []models.WaiterAssignment, closedAt map[string]*time.Time, now time.Time) float64 {
	intervals := make([]Interval, 0, len(assignments))
	for _, a := range assignments {
		intervals = append(intervals, clipAssignment(a.StartedAt, a.EndedAt, closedAt[a.SessionID], now))
	}
	return sumHours(MergeIntervals(intervals))
}
