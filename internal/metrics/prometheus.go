package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "oanda_grid_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	cycles           prometheus.Counter
	ordersPlaced     prometheus.Counter
	ordersCanceled   prometheus.Counter
	ordersFailed     prometheus.Counter
	fills            prometheus.Counter
	cyclesClosed     prometheus.Counter
	riskHalts        prometheus.Counter
	spreadSuppressed prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	cycles := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_total",
		Help:      "Total number of scheduler cycles run.",
	})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of limit orders placed.",
	})
	ordersCanceled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_canceled_total",
		Help:      "Total number of limit orders canceled.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement or cancel failures.",
	})
	fills := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "fills_total",
		Help:      "Total number of grid level fills observed.",
	})
	cyclesClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "grid_cycles_closed_total",
		Help:      "Total number of completed buy/sell grid cycles.",
	})
	riskHalts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "risk_halts_total",
		Help:      "Total number of risk controller halts.",
	})
	spreadSuppressed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "spread_suppressed_total",
		Help:      "Total number of cycles with placements suppressed by spread.",
	})

	registry.MustRegister(cycles, ordersPlaced, ordersCanceled, ordersFailed, fills, cyclesClosed, riskHalts, spreadSuppressed)

	m := &Metrics{
		Cycles:           promCounter{cycles},
		OrdersPlaced:     promCounter{ordersPlaced},
		OrdersCanceled:   promCounter{ordersCanceled},
		OrdersFailed:     promCounter{ordersFailed},
		Fills:            promCounter{fills},
		CyclesClosed:     promCounter{cyclesClosed},
		RiskHalts:        promCounter{riskHalts},
		SpreadSuppressed: promCounter{spreadSuppressed},
	}

	return &Prometheus{
		Metrics:          m,
		registry:         registry,
		cycles:           cycles,
		ordersPlaced:     ordersPlaced,
		ordersCanceled:   ordersCanceled,
		ordersFailed:     ordersFailed,
		fills:            fills,
		cyclesClosed:     cyclesClosed,
		riskHalts:        riskHalts,
		spreadSuppressed: spreadSuppressed,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
