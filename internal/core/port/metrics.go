package port

import "time"

// Metrics defines how runtime activity is exported (Prometheus)
type Metrics interface {
	ObserveReservation(outcome string)
	ObserveCompletion(machine string, busy time.Duration)
	ObserveNotification(machine string, err error)
	SetMachineBusy(machine string, busy bool)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) ObserveReservation(string)               {}
func (NopMetrics) ObserveCompletion(string, time.Duration) {}
func (NopMetrics) ObserveNotification(string, error)       {}
func (NopMetrics) SetMachineBusy(string, bool)             {}
