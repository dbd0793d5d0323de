package messaging

import (
	"testing"
	"time"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

func TestSpacing_Defaults(t *testing.T) {
	p := DefaultTimeoutParams()
	sp := NewSpacing(nil)

	expected := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{0, 2 * time.Second, 3 * time.Second},
		{1, 4 * time.Second, 6 * time.Second},
		{2, 8 * time.Second, 12 * time.Second},
		{3, 16 * time.Second, 24 * time.Second},
		{4, 32 * time.Second, 48 * time.Second},
	}

	for _, tc := range expected {
		lo, hi := sp.Bounds(p, tc.attempt)
		if lo != tc.min || hi != tc.max {
			t.Errorf("attempt %d: Bounds() = %v, %v, want %v, %v", tc.attempt, lo, hi, tc.min, tc.max)
		}
		got := sp.Next(p, tc.attempt)
		if got < tc.min || got > tc.max {
			t.Errorf("attempt %d: Next() = %v, want in [%v, %v]", tc.attempt, got, tc.min, tc.max)
		}
	}
}

func TestSpacing_ThresholdAndMargin(t *testing.T) {
	p := TimeoutParams{
		BaseInterval: 300 * time.Millisecond,
		Margin:       1.1,
		Base:         1.6,
		Jitter:       0.25,
		Threshold:    1,
	}
	sp := NewSpacing(fixedRandom(0))

	tests := []struct {
		attempt int
		wantMs  int64
	}{
		{0, 330},
		{1, 330},
		{2, 528},
		{3, 844},
	}
	for _, tt := range tests {
		got := sp.Next(p, tt.attempt).Milliseconds()
		if got < tt.wantMs-1 || got > tt.wantMs+1 {
			t.Errorf("Next(%d) = %dms, want %dms", tt.attempt, got, tt.wantMs)
		}
	}
}

func TestSpacing_FullJitter(t *testing.T) {
	p := DefaultTimeoutParams()
	sp := NewSpacing(fixedRandom(1.0))
	if got, want := sp.Next(p, 0), 3*time.Second; got != want {
		t.Errorf("Next() = %v, want %v", got, want)
	}
}

func TestTimeoutParamsWithDefaults(t *testing.T) {
	p := TimeoutParams{}.withDefaults()
	if p != DefaultTimeoutParams() {
		t.Errorf("withDefaults() = %+v, want %+v", p, DefaultTimeoutParams())
	}

	custom := TimeoutParams{BaseInterval: time.Millisecond, Base: 1.5, Margin: 2}.withDefaults()
	if custom.BaseInterval != time.Millisecond || custom.Base != 1.5 || custom.Margin != 2 {
		t.Errorf("withDefaults() overrode explicit values: %+v", custom)
	}
}

func TestRetryPolicyTransmissions(t *testing.T) {
	if got := (RetryPolicy{}).transmissions(); got != DefaultMaxTransmissions {
		t.Errorf("transmissions() = %d, want %d", got, DefaultMaxTransmissions)
	}
	if got := (RetryPolicy{MaxTransmissions: 2}).transmissions(); got != 2 {
		t.Errorf("transmissions() = %d, want 2", got)
	}
}
