package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appconfig "exchangecatalog/config"
	"exchangecatalog/internal/engine"
	"exchangecatalog/internal/metrics"
	"exchangecatalog/logger"
	"exchangecatalog/models"
)

// RawMessage is one captured vendor payload waiting to be normalized.
type RawMessage struct {
	ID         string
	Vendor     string
	DataType   models.DataType
	Source     models.SourceType
	Payload    []byte
	Vars       map[string]string
	ReceivedAt time.Time
}

// NewRawMessage stamps a payload with an ID and the receive time.
func NewRawMessage(vendor string, dt models.DataType, src models.SourceType, payload []byte) RawMessage {
	return RawMessage{
		ID:         uuid.NewString(),
		Vendor:     vendor,
		DataType:   dt,
		Source:     src,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
}

// Result carries the records produced from one message, or the error.
type Result struct {
	Message RawMessage
	Records []*models.NormalizedRecord
	Err     error
}

// Normalizer fans raw messages out to a pool of workers sharing one engine.
type Normalizer struct {
	config  appconfig.ProcessorConfig
	engine  *engine.Engine
	in      <-chan RawMessage
	out     chan Result
	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
	log     *logger.Log

	messagesProcessed atomic.Int64
	recordsProduced   atomic.Int64
	errorsCount       atomic.Int64
}

func NewNormalizer(cfg appconfig.ProcessorConfig, eng *engine.Engine, in <-chan RawMessage) *Normalizer {
	buffer := cfg.Buffer
	if buffer < 0 {
		buffer = 0
	}
	return &Normalizer{
		config: cfg,
		engine: eng,
		in:     in,
		out:    make(chan Result, buffer),
		log:    logger.GetLogger(),
	}
}

// Results is closed once every worker has exited.
func (n *Normalizer) Results() <-chan Result { return n.out }

func (n *Normalizer) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running || n.stopped {
		n.mu.Unlock()
		return fmt.Errorf("normalizer already started")
	}
	n.running = true
	n.ctx = ctx
	n.mu.Unlock()

	numWorkers := n.config.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"operation": "start", "workers": numWorkers})
	log.Info("starting normalizer workers")

	for i := 0; i < numWorkers; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}
	go func() {
		n.wg.Wait()
		close(n.out)
	}()
	return nil
}

// Stop waits for the workers to drain. Callers close the input channel or
// cancel the context first.
func (n *Normalizer) Stop() {
	n.mu.Lock()
	n.running = false
	n.stopped = true
	n.mu.Unlock()

	n.wg.Wait()
	metrics.ReportProcessor(n.log, n.Stats())
	n.log.WithComponent("normalizer").Info("normalizer stopped")
}

func (n *Normalizer) Stats() metrics.ProcessorStats {
	return metrics.ProcessorStats{
		MessagesProcessed: n.messagesProcessed.Load(),
		RecordsProduced:   n.recordsProduced.Load(),
		ErrorsCount:       n.errorsCount.Load(),
		InputLen:          len(n.in),
		InputCap:          cap(n.in),
	}
}

func (n *Normalizer) worker(workerID int) {
	defer n.wg.Done()

	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"worker_id": workerID})
	log.Debug("starting normalizer worker")

	for {
		select {
		case <-n.ctx.Done():
			log.Debug("worker stopped due to context cancellation")
			return
		case msg, ok := <-n.in:
			if !ok {
				log.Debug("input channel closed, worker stopping")
				return
			}

			start := time.Now()
			res := n.process(msg)
			n.messagesProcessed.Add(1)

			logger.LogPerformanceEntry(log, "normalizer", "normalize_message", time.Since(start), logger.Fields{
				"worker_id":   workerID,
				"message_id":  msg.ID,
				"vendor":      msg.Vendor,
				"data_type":   string(msg.DataType),
				"source_type": string(msg.Source),
				"records":     len(res.Records),
			})

			select {
			case n.out <- res:
			case <-n.ctx.Done():
				return
			}
		}
	}
}

func (n *Normalizer) process(msg RawMessage) Result {
	var opts []engine.CallOption
	if len(msg.Vars) > 0 {
		opts = append(opts, engine.WithVars(msg.Vars))
	}
	records, err := n.engine.NormalizeJSON(n.ctx, msg.Payload, msg.Vendor, msg.DataType, msg.Source, opts...)
	if err != nil {
		n.errorsCount.Add(1)
		n.log.WithComponent("normalizer").WithError(err).WithFields(logger.Fields{
			"message_id": msg.ID,
			"vendor":     msg.Vendor,
			"data_type":  string(msg.DataType),
		}).Warn("failed to normalize message")
		return Result{Message: msg, Err: err}
	}
	n.recordsProduced.Add(int64(len(records)))
	logger.LogDataFlowEntry(n.log.WithComponent("normalizer"), "processor", "engine", len(records), "normalized_records")
	return Result{Message: msg, Records: records}
}

// NormalizeMessages runs msgs through a temporary pool and returns results in
// input order.
func NormalizeMessages(ctx context.Context, cfg appconfig.ProcessorConfig, eng *engine.Engine, msgs []RawMessage) ([]Result, error) {
	in := make(chan RawMessage, len(msgs))
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if _, dup := index[m.ID]; dup {
			return nil, fmt.Errorf("duplicate message id %q", m.ID)
		}
		index[m.ID] = i
		in <- m
	}
	close(in)

	n := NewNormalizer(cfg, eng, in)
	if err := n.Start(ctx); err != nil {
		return nil, err
	}
	out := make([]Result, len(msgs))
	got := 0
	for res := range n.Results() {
		out[index[res.Message.ID]] = res
		got++
	}
	n.Stop()
	if got < len(msgs) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		return out, fmt.Errorf("normalized %d of %d messages", got, len(msgs))
	}
	return out, nil
}
