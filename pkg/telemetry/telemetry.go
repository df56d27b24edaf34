// Package telemetry keeps in-process go-metrics counters for probe-client.
package telemetry

import (
	"fmt"
	"sort"
	"time"

	metrics "github.com/armon/go-metrics"
)

const (
	sinkInterval = 10 * time.Second
	sinkRetain   = time.Hour
)

// Counter is a flattened view of one counter, summed over the retained intervals.
type Counter struct {
	Name   string
	Labels map[string]string
	Count  int
	Sum    float64
}

// Telemetry bundles a metrics instance with the in-memory sink it writes to.
type Telemetry struct {
	*metrics.Metrics
	sink *metrics.InmemSink
}

// New creates a Telemetry whose keys are prefixed with service.
func New(service string) (*Telemetry, error) {
	sink := metrics.NewInmemSink(sinkInterval, sinkRetain)

	conf := metrics.DefaultConfig(service)
	conf.EnableHostname = false
	conf.EnableHostnameLabel = false
	conf.EnableRuntimeMetrics = false

	m, err := metrics.New(conf, sink)
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}
	return &Telemetry{Metrics: m, sink: sink}, nil
}

// Counters returns every counter seen in the retained intervals, sorted by name.
func (t *Telemetry) Counters() []Counter {
	byKey := map[string]*Counter{}
	for _, interval := range t.sink.Data() {
		interval.RLock()
		for key, sv := range interval.Counters {
			if sv.AggregateSample == nil {
				continue
			}
			c, ok := byKey[key]
			if !ok {
				c = &Counter{Name: sv.Name, Labels: map[string]string{}}
				for _, l := range sv.Labels {
					c.Labels[l.Name] = l.Value
				}
				byKey[key] = c
			}
			c.Count += sv.Count
			c.Sum += sv.Sum
		}
		interval.RUnlock()
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Counter, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byKey[k])
	}
	return out
}
