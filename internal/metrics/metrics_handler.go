package metrics

import (
	"sync"
	"time"

	"exchangecatalog/logger"
)

// Metric is a structured metric event emitted within the application.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler consumes metric events, e.g. the API's recent metric ring.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler.
type MetricHandlerID uint64

type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[MetricHandlerID]MetricHandler
	next     MetricHandlerID
}

var handlers = &handlerRegistry{handlers: map[MetricHandlerID]MetricHandler{}}

func (r *handlerRegistry) add(h MetricHandler) MetricHandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.handlers[r.next] = h
	return r.next
}

func (r *handlerRegistry) remove(id MetricHandlerID) {
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

func (r *handlerRegistry) snapshot() []MetricHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MetricHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}

func (r *handlerRegistry) reset() {
	r.mu.Lock()
	r.handlers = map[MetricHandlerID]MetricHandler{}
	r.next = 0
	r.mu.Unlock()
}

// RegisterMetricHandler registers a handler that receives every emitted
// metric. A nil handler is ignored and yields the zero ID.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	return handlers.add(handler)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	handlers.remove(id)
}

// recordMetric logs the metric at debug level and dispatches it. Events
// without a name are dropped.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	userFields := cloneFields(fields)
	logFields := cloneFields(fields)
	logFields["metric"] = name
	logFields["metric_type"] = metricType
	logFields["value"] = value
	log.WithComponent(component).WithFields(logFields).Debug("metric")

	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    userFields,
	}
	for _, h := range handlers.snapshot() {
		h(m)
	}
	return m, true
}

func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields)+3)
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
