package distribution

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		amount uint64
		want   int
	}{
		{0, 0},
		{1, 1},
		{9, 1},
		{10, 2},
		{99, 2},
		{100, 3},
		{999_999_999, 9},
		{1_000_000_000, 10},
		{9_999_999_999, 10},
		{10_000_000_000, 10},
		{math.MaxUint64, 10},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.amount), "amount %d", tt.amount)
	}
}

func TestClassify_MatchesLog10Definition(t *testing.T) {
	for _, amount := range []uint64{1, 2, 5, 9, 10, 11, 50, 99, 100, 101, 12345, 99999, 100000, 7654321} {
		want := int(math.Floor(math.Log10(float64(amount * 10))))
		if want > TierCount-1 {
			want = TierCount - 1
		}
		assert.Equal(t, want, Classify(amount), "amount %d", amount)
	}
}

func TestClassify_Monotonic(t *testing.T) {
	prev := Classify(0)
	for amount := uint64(1); amount < 200_000; amount += 7 {
		got := Classify(amount)
		assert.GreaterOrEqual(t, got, prev, "amount %d", amount)
		prev = got
	}
	for amount := uint64(1); amount < math.MaxUint64/10; amount *= 10 {
		got := Classify(amount)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}
