package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	Cycles           Counter
	OrdersPlaced     Counter
	OrdersCanceled   Counter
	OrdersFailed     Counter
	Fills            Counter
	CyclesClosed     Counter
	RiskHalts        Counter
	SpreadSuppressed Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		Cycles:           n,
		OrdersPlaced:     n,
		OrdersCanceled:   n,
		OrdersFailed:     n,
		Fills:            n,
		CyclesClosed:     n,
		RiskHalts:        n,
		SpreadSuppressed: n,
	}
}
