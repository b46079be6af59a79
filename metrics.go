package channel

// Metrics is a snapshot of an engine's lifetime counters, useful for
// diagnosing contention or a channel stuck full/empty in production.
type Metrics struct {
	SendsCompleted    int64
	ReceivesCompleted int64
	SendsSuspended    int64
	ReceivesSuspended int64
	Cancellations     int64
}

func (e *engine[T]) metrics() Metrics {
	return Metrics{
		SendsCompleted:    e.sendsCompleted.Load(),
		ReceivesCompleted: e.receivesCompleted.Load(),
		SendsSuspended:    e.sendsSuspended.Load(),
		ReceivesSuspended: e.receivesSuspended.Load(),
		Cancellations:     e.cancellations.Load(),
	}
}
