package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/greenfelt/backend/internal/models"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 14, hour, min, 0, 0, time.UTC)
}

func TestMergeIntervals(t *testing.T) {
	t.Run("overlapping intervals collapse", func(t *testing.T) {
		merged := MergeIntervals([]Interval{
			{Start: at(9, 0), End: at(11, 0)},
			{Start: at(10, 0), End: at(12, 0)},
		})
		assert.Len(t, merged, 1)
		assert.Equal(t, at(9, 0), merged[0].Start)
		assert.Equal(t, at(12, 0), merged[0].End)
	})

	t.Run("touching intervals collapse", func(t *testing.T) {
		merged := MergeIntervals([]Interval{
			{Start: at(9, 0), End: at(10, 0)},
			{Start: at(10, 0), End: at(11, 0)},
		})
		assert.Len(t, merged, 1)
		assert.Equal(t, 2.0, merged[0].Hours())
	})

	t.Run("disjoint intervals stay apart", func(t *testing.T) {
		merged := MergeIntervals([]Interval{
			{Start: at(14, 0), End: at(15, 0)},
			{Start: at(9, 0), End: at(10, 0)},
		})
		assert.Len(t, merged, 2)
		assert.Equal(t, at(9, 0), merged[0].Start)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, MergeIntervals(nil))
	})
}

func TestWaiterHours(t *testing.T) {
	now := at(20, 0)

	t.Run("concurrent tables are not double paid", func(t *testing.T) {
		end1, end2 := at(11, 0), at(12, 0)
		hours := WaiterHours([]models.WaiterAssignment{
			{ID: 1, SessionID: "s1", WaiterID: 9, StartedAt: at(9, 0), EndedAt: &end1},
			{ID: 2, SessionID: "s2", WaiterID: 9, StartedAt: at(10, 0), EndedAt: &end2},
		}, nil, now)
		assert.Equal(t, 3.0, hours)
	})

	t.Run("open shift runs until now", func(t *testing.T) {
		hours := WaiterHours([]models.WaiterAssignment{
			{ID: 1, SessionID: "s1", WaiterID: 9, StartedAt: at(18, 0)},
		}, nil, now)
		assert.Equal(t, 2.0, hours)
	})
}

func TestDealerHours(t *testing.T) {
	now := at(20, 0)

	t.Run("plain sum of exclusive shifts", func(t *testing.T) {
		end := at(12, 0)
		hours := DealerHours([]models.DealerAssignment{
			{ID: 1, SessionID: "s1", DealerID: 5, StartedAt: at(10, 0), EndedAt: &end},
			{ID: 2, SessionID: "s2", DealerID: 5, StartedAt: at(13, 0), EndedAt: nil},
		}, nil, now)
		assert.Equal(t, 9.0, hours)
	})

	t.Run("shift never outlives a closed session", func(t *testing.T) {
		closed := at(11, 0)
		hours := DealerHours([]models.DealerAssignment{
			{ID: 1, SessionID: "s1", DealerID: 5, StartedAt: at(9, 0), EndedAt: nil},
		}, map[string]*time.Time{"s1": &closed}, now)
		assert.Equal(t, 2.0, hours)
	})
}

func TestAttributeLosses(t *testing.T) {
	handover := at(10, 0)

	shifts := []attributionShift{
		{AssignmentID: 1, StartedAt: at(8, 0), EndedAt: &handover},
		{AssignmentID: 2, StartedAt: handover, EndedAt: nil},
	}
	now := at(14, 0)

	t.Run("loss at handover goes to the incoming dealer", func(t *testing.T) {
		out := attributeLosses([]lossEvent{{Amount: -100, At: handover}}, shifts, nil, now)
		assert.Equal(t, map[int64]int64{2: 100}, out)
	})

	t.Run("loss inside a shift goes to that dealer", func(t *testing.T) {
		out := attributeLosses([]lossEvent{
			{Amount: -30, At: at(9, 0)},
			{Amount: -70, At: at(11, 30)},
		}, shifts, nil, now)
		assert.Equal(t, map[int64]int64{1: 30, 2: 70}, out)
	})

	t.Run("loss outside every shift stays unattributed", func(t *testing.T) {
		out := attributeLosses([]lossEvent{{Amount: -50, At: at(7, 0)}}, shifts, nil, now)
		assert.Empty(t, out)
	})

	t.Run("session close caps the open shift", func(t *testing.T) {
		closed := at(12, 0)
		out := attributeLosses([]lossEvent{{Amount: -20, At: at(13, 0)}}, shifts, &closed, now)
		assert.Empty(t, out)
	})

	t.Run("equal start times break on higher assignment id", func(t *testing.T) {
		tied := []attributionShift{
			{AssignmentID: 3, StartedAt: at(9, 0), EndedAt: nil},
			{AssignmentID: 4, StartedAt: at(9, 0), EndedAt: nil},
		}
		out := attributeLosses([]lossEvent{{Amount: -10, At: at(9, 30)}}, tied, nil, now)
		assert.Equal(t, map[int64]int64{4: 10}, out)
	})
}
