package monitoring

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticketScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_scans_total",
			Help: "Total QR verification scans by result",
		},
		[]string{"result"},
	)

	ticketRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_redemptions_total",
			Help: "Total redemption attempts by result",
		},
		[]string{"result"},
	)

	qrIssuance = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_issuance_total",
			Help: "Total issuance batch deliveries by result",
		},
		[]string{"result"},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scan_duration_seconds",
			Help:    "Duration of verification requests",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	ticketsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickets_total",
			Help: "Total ticket records in the store",
		},
	)

	ticketsUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickets_used_total",
			Help: "Ticket records already redeemed",
		},
	)
)

// TicketCounter is the slice of the store the monitor polls.
type TicketCounter interface {
	Counts(ctx context.Context) (total int64, used int64, err error)
}

type Monitor struct {
	counter TicketCounter
}

func NewMonitor(counter TicketCounter) *Monitor {
	return &Monitor{counter: counter}
}

// Collect refreshes the ticket gauges every 30s until ctx is done.
func (m *Monitor) Collect(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total, used, err := m.counter.Counts(ctx)
			if err != nil {
				log.Printf("Error collecting ticket metrics: %v", err)
				continue
			}
			ticketsTotal.Set(float64(total))
			ticketsUsed.Set(float64(used))
		}
	}
}

// TrackScan records one verification outcome.
func TrackScan(result string, duration time.Duration) {
	ticketScans.WithLabelValues(result).Inc()
	scanDuration.Observe(duration.Seconds())
}

// TrackRedemption records one mark-used outcome.
func TrackRedemption(result string) {
	ticketRedemptions.WithLabelValues(result).Inc()
}

// TrackIssuance records one batch delivery outcome.
func TrackIssuance(result string) {
	qrIssuance.WithLabelValues(result).Inc()
}
