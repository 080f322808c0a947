package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_UnknownBudgetDoesNotStop(t *testing.T) {
	tr := New(100)

	assert.False(t, tr.ShouldStop())
	_, ok := tr.Remaining()
	assert.False(t, ok)
	assert.Equal(t, 100, tr.Floor())
}

func TestTracker_ShouldStop(t *testing.T) {
	tests := []struct {
		name      string
		floor     int
		remaining int
		want      bool
	}{
		{"above floor", 10, 11, false},
		{"at floor", 10, 10, true},
		{"below floor", 10, 3, true},
		{"zero floor with budget left", 0, 1, false},
		{"zero floor exhausted", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(tt.floor)
			tr.Update(tt.remaining)
			assert.Equal(t, tt.want, tr.ShouldStop())

			got, ok := tr.Remaining()
			assert.True(t, ok)
			assert.Equal(t, tt.remaining, got)
		})
	}
}

func TestTracker_StopsAtFirstValueAtOrBelowFloor(t *testing.T) {
	tr := New(95)

	var stoppedAt int
	for remaining := 100; remaining >= 90; remaining-- {
		tr.Update(remaining)
		if tr.ShouldStop() {
			stoppedAt = remaining
			break
		}
	}

	assert.Equal(t, 95, stoppedAt)
}
