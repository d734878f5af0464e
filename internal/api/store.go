package api

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"exchangecatalog/internal/metrics"
)

// ring keeps the newest limit items. Safe for concurrent use.
type ring[T any] struct {
	mu    sync.RWMutex
	items []T
	limit int
}

func newRing[T any](limit int) *ring[T] {
	if limit <= 0 {
		limit = 200
	}
	return &ring[T]{limit: limit}
}

func (r *ring[T]) push(item T) {
	r.mu.Lock()
	r.items = append(r.items, item)
	if len(r.items) > r.limit {
		r.items = append([]T(nil), r.items[len(r.items)-r.limit:]...)
	}
	r.mu.Unlock()
}

func (r *ring[T]) snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// metricStore holds the most recent metric events for /api/v1/metrics.
type metricStore struct {
	*ring[metrics.Metric]
}

func newMetricStore(limit int) *metricStore {
	return &metricStore{ring: newRing[metrics.Metric](limit)}
}

func (s *metricStore) handle(m metrics.Metric) { s.push(m) }

type logRecord struct {
	Timestamp time.Time
	Level     string
	Component string
	Message   string
	Fields    map[string]any
}

// logStore is a logrus hook capturing recent entries for /api/v1/logs.
type logStore struct {
	*ring[logRecord]
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	s := &logStore{ring: newRing[logRecord](limit)}
	s.enabled.Store(true)
	return s
}

func (s *logStore) Levels() []logrus.Level { return logrus.AllLevels }

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}
	rec := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	for k, v := range entry.Data {
		if k == "component" {
			rec.Component, _ = v.(string)
			continue
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]any, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			rec.Fields[k] = val.Error()
		case fmt.Stringer:
			rec.Fields[k] = val.String()
		default:
			rec.Fields[k] = val
		}
	}
	s.push(rec)
	return nil
}

// close stops capturing. logrus has no hook removal.
func (s *logStore) close() { s.enabled.Store(false) }
