package messaging

import "time"

// Default retransmission parameters for Thread management messages.
const (
	// DefaultAckTimeout is the initial retransmission interval.
	DefaultAckTimeout = 2 * time.Second

	// DefaultBackoffBase doubles the interval after each retransmission.
	DefaultBackoffBase = 2.0

	// DefaultBackoffJitter adds up to half the interval at random.
	DefaultBackoffJitter = 0.5

	// DefaultMaxTransmissions is the initial send plus four retransmissions.
	DefaultMaxTransmissions = 5

	// DefaultExchangeLifetime bounds how long a received message ID is
	// remembered for duplicate suppression.
	DefaultExchangeLifetime = 60 * time.Second
)

// TimeoutParams controls the spacing of transmissions.
//
// The interval before transmission n+1 (n counting from 0) is
//
//	BaseInterval * Margin * Base^max(0, n-Threshold) * (1 + random*Jitter)
type TimeoutParams struct {
	BaseInterval time.Duration
	Margin       float64
	Base         float64
	Jitter       float64
	Threshold    int
}

// DefaultTimeoutParams returns the parameters used for management requests.
func DefaultTimeoutParams() TimeoutParams {
	return TimeoutParams{
		BaseInterval: DefaultAckTimeout,
		Margin:       1.0,
		Base:         DefaultBackoffBase,
		Jitter:       DefaultBackoffJitter,
		Threshold:    0,
	}
}

func (p TimeoutParams) withDefaults() TimeoutParams {
	d := DefaultTimeoutParams()
	if p == (TimeoutParams{}) {
		return d
	}
	if p.BaseInterval <= 0 {
		p.BaseInterval = d.BaseInterval
	}
	if p.Margin <= 0 {
		p.Margin = 1.0
	}
	if p.Base < 1 {
		p.Base = d.Base
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Threshold < 0 {
		p.Threshold = 0
	}
	return p
}

// RetryPolicy controls how many times a confirmable message is sent.
type RetryPolicy struct {
	// MaxTransmissions counts the initial send. Zero selects the default.
	MaxTransmissions int

	// Confirmable requests an acknowledgement and enables retransmission.
	// Non-confirmable requests are sent once and time out after one interval.
	Confirmable bool
}

// DefaultRetryPolicy returns a confirmable policy with the default retry count.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTransmissions: DefaultMaxTransmissions, Confirmable: true}
}

func (r RetryPolicy) transmissions() int {
	if r.MaxTransmissions <= 0 {
		return DefaultMaxTransmissions
	}
	return r.MaxTransmissions
}
