package agent

import (
	"context"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/model"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

func (a *Agent) runMetrics(ctx context.Context, interval time.Duration) {
	defer a.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.gatherMetrics()
		}
	}
}

// gatherMetrics queues one metric set for the runtime and one per distinct
// label set found in the gatherers.
func (a *Agent) gatherMetrics() {
	if !a.store.Load().Recording {
		return
	}
	now := time.Now()
	sets := []*model.MetricSet{runtimeMetrics(now)}
	for _, g := range a.gatherers {
		families, err := g.Gather()
		if err != nil {
			// Gather returns what it could collect alongside the error
			a.logger.Debug("partial prometheus gather", zap.Error(err))
		}
		sets = append(sets, familiesToMetricSets(now, families)...)
	}
	for _, ms := range sets {
		if err := a.enqueue(ms); err != nil {
			return
		}
	}
}

func runtimeMetrics(now time.Time) *model.MetricSet {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return &model.MetricSet{
		Timestamp: model.Timestamp(now),
		Samples: map[string]model.MetricValue{
			"golang.goroutines":                 {Value: float64(runtime.NumGoroutine())},
			"golang.heap.allocations.mallocs":   {Value: float64(mem.Mallocs)},
			"golang.heap.allocations.frees":     {Value: float64(mem.Frees)},
			"golang.heap.allocations.objects":   {Value: float64(mem.HeapObjects)},
			"golang.heap.allocations.total":     {Value: float64(mem.TotalAlloc)},
			"golang.heap.allocations.allocated": {Value: float64(mem.HeapAlloc)},
			"golang.heap.allocations.idle":      {Value: float64(mem.HeapIdle)},
			"golang.heap.allocations.active":    {Value: float64(mem.HeapInuse)},
			"golang.heap.system.total":          {Value: float64(mem.Sys)},
			"golang.heap.system.obtained":       {Value: float64(mem.HeapSys)},
			"golang.heap.system.stack":          {Value: float64(mem.StackSys)},
			"golang.heap.system.released":       {Value: float64(mem.HeapReleased)},
			"golang.heap.gc.next_gc_limit":      {Value: float64(mem.NextGC)},
			"golang.heap.gc.total_count":        {Value: float64(mem.NumGC)},
			"golang.heap.gc.total_pause.ns":     {Value: float64(mem.PauseTotalNs)},
			"golang.heap.gc.cpu_fraction":       {Value: mem.GCCPUFraction},
		},
	}
}

// familiesToMetricSets groups samples sharing a label set into one metric
// set. Summaries and histograms contribute their count and sum.
func familiesToMetricSets(now time.Time, families []*dto.MetricFamily) []*model.MetricSet {
	byLabels := make(map[string]*model.MetricSet)
	var order []string

	add := func(labels []*dto.LabelPair, name string, value float64) {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return
		}
		key := labelKey(labels)
		ms, ok := byLabels[key]
		if !ok {
			ms = &model.MetricSet{
				Timestamp: model.Timestamp(now),
				Samples:   make(map[string]model.MetricValue),
				Labels:    toLabels(labels),
			}
			byLabels[key] = ms
			order = append(order, key)
		}
		ms.Samples[name] = model.MetricValue{Value: value}
	}

	for _, mf := range families {
		name := mf.GetName()
		for _, m := range mf.GetMetric() {
			labels := m.GetLabel()
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				add(labels, name, m.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				add(labels, name, m.GetGauge().GetValue())
			case dto.MetricType_UNTYPED:
				add(labels, name, m.GetUntyped().GetValue())
			case dto.MetricType_SUMMARY:
				add(labels, name+".count", float64(m.GetSummary().GetSampleCount()))
				add(labels, name+".sum", m.GetSummary().GetSampleSum())
			case dto.MetricType_HISTOGRAM:
				add(labels, name+".count", float64(m.GetHistogram().GetSampleCount()))
				add(labels, name+".sum", m.GetHistogram().GetSampleSum())
			}
		}
	}

	sort.Strings(order)
	out := make([]*model.MetricSet, 0, len(order))
	for _, key := range order {
		out = append(out, byLabels[key])
	}
	return out
}

func labelKey(labels []*dto.LabelPair) string {
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func toLabels(labels []*dto.LabelPair) model.Labels {
	if len(labels) == 0 {
		return nil
	}
	out := make(model.Labels, len(labels))
	for _, l := range labels {
		out[l.GetName()] = l.GetValue()
	}
	return out
}
