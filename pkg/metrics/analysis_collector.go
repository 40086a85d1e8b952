package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/qiita/qiita-ware/internal/store"
	"github.com/qiita/qiita-ware/internal/store/model"
	"go.uber.org/zap"
)

type analysisCollector struct {
	store         store.Store
	totalByStatus *prometheus.Desc
	totalAnalyses *prometheus.Desc
}

func NewAnalysisCollector(s store.Store) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_analysis_%s", qiitaWare, name)
	}

	return &analysisCollector{
		store: s,
		totalByStatus: prometheus.NewDesc(
			fqName("by_status_total"),
			"Total analyses by status.",
			[]string{"status"},
			prometheus.Labels{},
		),
		totalAnalyses: prometheus.NewDesc(
			fqName("total"),
			"Total number of analyses.",
			nil,
			prometheus.Labels{},
		),
	}
}

func (c *analysisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalByStatus
	ch <- c.totalAnalyses
}

// Collect implements Collector.
func (c *analysisCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.store.Analysis().CountByStatus(context.Background())
	if err != nil {
		zap.S().Named("analysis_collector").Errorf("failed to collect analysis statistics: %s", err)
		return
	}

	var total int64
	for _, status := range []model.AnalysisStatus{
		model.AnalysisStatusConstruction,
		model.AnalysisStatusRunning,
		model.AnalysisStatusCompleted,
		model.AnalysisStatusLocked,
	} {
		total += counts[status]
		ch <- prometheus.MustNewConstMetric(c.totalByStatus, prometheus.GaugeValue, float64(counts[status]), string(status))
	}
	ch <- prometheus.MustNewConstMetric(c.totalAnalyses, prometheus.GaugeValue, float64(total))
}
