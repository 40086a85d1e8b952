package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type subscribers struct {
	counter    prometheus.Gauge
	recipients map[string]int
	mu         sync.Mutex
}

// Subscribers
const connectedRecipients = "connected_recipients"

var connectedRecipientsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: qiitaWare,
		Name:      connectedRecipients,
		Help:      "number of distinct recipients with at least one live subscription",
	},
)

var Subscribers = &subscribers{
	counter:    connectedRecipientsMetric,
	recipients: make(map[string]int),
}

func (s *subscribers) Connect(recipient string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recipients[recipient]++
	if s.recipients[recipient] == 1 {
		s.counter.Inc()
	}
}

func (s *subscribers) Disconnect(recipient string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.recipients[recipient]
	if !ok {
		return
	}
	if n <= 1 {
		delete(s.recipients, recipient)
		s.counter.Dec()
		return
	}
	s.recipients[recipient] = n - 1
}

func (s *subscribers) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recipients)
}
