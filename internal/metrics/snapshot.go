package metrics

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"

	"drover/internal/logging"
)

// Sample is one labelled series within a metric family. Counters and gauges
// fill Value; summaries fill Value with the running sum plus Count and the
// tracked quantiles.
type Sample struct {
	Labels    map[string]string  `json:"labels,omitempty"`
	Value     float64            `json:"value"`
	Count     uint64             `json:"count,omitempty"`
	Quantiles map[string]float64 `json:"quantiles,omitempty"`
}

// Metric is one exported metric family.
type Metric struct {
	Name    string   `json:"name"`
	Help    string   `json:"help"`
	Type    string   `json:"type"`
	Samples []Sample `json:"samples"`
}

// Snapshot holds everything the registry knew at one instant.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	Metrics     []Metric  `json:"metrics"`
}

// Gather reads the registry into a Snapshot.
func (c *Collector) Gather() (*Snapshot, error) {
	if c == nil {
		return &Snapshot{GeneratedAt: time.Now()}, nil
	}
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	snap := &Snapshot{GeneratedAt: time.Now()}
	for _, fam := range families {
		m := Metric{
			Name: fam.GetName(),
			Help: fam.GetHelp(),
			Type: fam.GetType().String(),
		}
		for _, series := range fam.GetMetric() {
			m.Samples = append(m.Samples, toSample(fam.GetType(), series))
		}
		snap.Metrics = append(snap.Metrics, m)
	}
	return snap, nil
}

// WriteSnapshot gathers the registry and writes stats_<YYYYMMDD_HHMMSS>.json
// under dir, returning the file path.
func (c *Collector) WriteSnapshot(dir string) (string, error) {
	snap, err := c.Gather()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("stats_%s.json", snap.GeneratedAt.Format("20060102_150405")))
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	logging.Metrics("snapshot written to %s (%d families)", path, len(snap.Metrics))
	return path, nil
}

func toSample(typ dto.MetricType, series *dto.Metric) Sample {
	s := Sample{}
	if labels := series.GetLabel(); len(labels) > 0 {
		s.Labels = make(map[string]string, len(labels))
		for _, l := range labels {
			s.Labels[l.GetName()] = l.GetValue()
		}
	}
	switch typ {
	case dto.MetricType_COUNTER:
		s.Value = series.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		s.Value = series.GetGauge().GetValue()
	case dto.MetricType_SUMMARY:
		sum := series.GetSummary()
		s.Value = sum.GetSampleSum()
		s.Count = sum.GetSampleCount()
		for _, q := range sum.GetQuantile() {
			v := q.GetValue()
			if math.IsNaN(v) {
				continue // empty summaries report NaN, which JSON cannot carry
			}
			if s.Quantiles == nil {
				s.Quantiles = make(map[string]float64)
			}
			s.Quantiles[strconv.FormatFloat(q.GetQuantile(), 'g', -1, 64)] = v
		}
	case dto.MetricType_HISTOGRAM:
		hist := series.GetHistogram()
		s.Value = hist.GetSampleSum()
		s.Count = hist.GetSampleCount()
	default:
		s.Value = series.GetUntyped().GetValue()
	}
	return s
}
