package metrics

import (
	"sync"
	"time"
)

const window = 100

// Collector keeps per-stage counters and the last latencies observed.
type Collector struct {
	counters  map[string]map[string]int64
	latencies map[string][]time.Duration
	mutex     sync.RWMutex
}

func NewCollector() *Collector {
	return &Collector{
		counters:  make(map[string]map[string]int64),
		latencies: make(map[string][]time.Duration),
	}
}

// Add increments counter name/label by delta. A nil collector is a no-op.
func (mc *Collector) Add(name, label string, delta int64) {
	if mc == nil {
		return
	}
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if _, exists := mc.counters[name]; !exists {
		mc.counters[name] = make(map[string]int64)
	}
	mc.counters[name][label] += delta
}

func (mc *Collector) ObserveLatency(name string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	mc.latencies[name] = append(mc.latencies[name], duration)
	if len(mc.latencies[name]) > window {
		mc.latencies[name] = mc.latencies[name][len(mc.latencies[name])-window:]
	}
}

// Since records the time elapsed from start under name.
func (mc *Collector) Since(name string, start time.Time) {
	mc.ObserveLatency(name, time.Since(start))
}

func (mc *Collector) Counters() map[string]map[string]int64 {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	counters := make(map[string]map[string]int64, len(mc.counters))
	for name, labels := range mc.counters {
		counters[name] = make(map[string]int64, len(labels))
		for label, value := range labels {
			counters[name][label] = value
		}
	}
	return counters
}

// Latencies returns avg and max in milliseconds per stage.
func (mc *Collector) Latencies() map[string]map[string]float64 {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	result := make(map[string]map[string]float64)
	for name, durations := range mc.latencies {
		if len(durations) == 0 {
			continue
		}
		var sum, max time.Duration
		for _, d := range durations {
			sum += d
			if d > max {
				max = d
			}
		}
		result[name] = map[string]float64{
			"avg_ms": float64(sum) / float64(len(durations)) / float64(time.Millisecond),
			"max_ms": float64(max) / float64(time.Millisecond),
		}
	}
	return result
}
