package aggregation

import "time"

// Metrics receives aggregation events. The observability package provides the
// Prometheus-backed implementation.
type Metrics interface {
	ContributionReceived(op string)
	ContributionMalformed(op string)
	AggregateReady(op string)
	RequestCompleted(op, outcome string, d time.Duration)
	OrphansSwept(n int)
}

type nopMetrics struct{}

func (nopMetrics) ContributionReceived(string)                    {}
func (nopMetrics) ContributionMalformed(string)                   {}
func (nopMetrics) AggregateReady(string)                          {}
func (nopMetrics) RequestCompleted(string, string, time.Duration) {}
func (nopMetrics) OrphansSwept(int)                               {}

const (
	OutcomeOK        = "ok"
	OutcomeTimeout   = "timeout"
	OutcomeTransport = "transport_error"
	OutcomeCanceled  = "canceled"
	OutcomeError     = "error"
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case isTimeout(err):
		return OutcomeTimeout
	case isTransport(err):
		return OutcomeTransport
	case isCanceled(err):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}
