package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"margin-repeater/execdata"
	"margin-repeater/execution"
	"margin-repeater/metrics"
	"margin-repeater/watcher"

	"go.uber.org/zap"
)

const maxRecentFailures = 100

// Statistics summarises a repeater run.
type Statistics struct {
	Observed uint64
	Ignored  uint64
	Mirrored uint64
	Failed   map[FailureKind]uint64
}

// Repeater connects the block watcher, the pipeline and the executor.
type Repeater struct {
	watcher  watcher.Watcher
	pipeline *Pipeline
	executor execution.Executor

	onFailure FailureHook
	failures  []FailureRecord

	stats   Statistics
	statsMu sync.RWMutex

	statusInterval time.Duration
	startTime      time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// NewRepeater wires w to the pipeline. Transactions are handled one at a
// time in the order the watcher reports them.
func NewRepeater(w watcher.Watcher, pipeline *Pipeline, executor execution.Executor, logger *zap.Logger) *Repeater {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Repeater{
		watcher:        w,
		pipeline:       pipeline,
		executor:       executor,
		stats:          Statistics{Failed: make(map[FailureKind]uint64)},
		statusInterval: 30 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
	}
	w.SetTxCallback(r.HandleTransaction)
	return r
}

// SetFailureCallback registers a hook called for every failure record.
func (r *Repeater) SetFailureCallback(hook FailureHook) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.onFailure = hook
}

// Start begins watching blocks.
func (r *Repeater) Start() error {
	r.startTime = time.Now()
	if err := r.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start block watcher: %w", err)
	}

	r.wg.Add(1)
	go r.statusMonitor()

	r.logger.Info("Repeater started", zap.String("executor", r.executor.Address().Hex()))
	return nil
}

// Stop stops the watcher and logs a final report.
func (r *Repeater) Stop() error {
	r.cancel()
	err := r.watcher.Stop()
	r.wg.Wait()
	r.logReport("Repeater stopped")
	return err
}

// HandleTransaction mirrors one target transaction. Failures are recorded and
// never stop processing.
func (r *Repeater) HandleTransaction(ctx context.Context, tx watcher.Transaction) {
	metrics.TransactionsObserved.Inc()
	r.updateStats(func(s *Statistics) { s.Observed++ })

	start := time.Now()
	result, err := r.pipeline.Process(ctx, tx)
	if errors.Is(err, execdata.ErrNotExecute) {
		r.updateStats(func(s *Statistics) { s.Ignored++ })
		r.logger.Debug("Ignoring non-execute transaction", zap.String("tx", tx.Hash.Hex()))
		return
	}
	if err != nil {
		r.fail(KindOf(err), tx, err)
		return
	}
	metrics.PipelineLatency.Observe(time.Since(start).Seconds())

	sent := time.Now()
	sub, err := r.executor.Submit(ctx, tx.Hash, result.Codes, result.Inputs)
	if sub != nil {
		metrics.SubmissionLatency.WithLabelValues(string(sub.Status)).Observe(time.Since(sent).Seconds())
	}
	if err != nil {
		r.fail(KindSubmit, tx, err)
		return
	}

	metrics.BatchesMirrored.WithLabelValues(string(result.Details.Type)).Inc()
	r.updateStats(func(s *Statistics) { s.Mirrored++ })
	r.logger.Info("Mirrored target batch",
		zap.String("source", tx.Hash.Hex()),
		zap.String("type", string(result.Details.Type)),
		zap.String("tx", sub.TxHash.Hex()),
		zap.String("status", string(sub.Status)))
}

func (r *Repeater) fail(kind FailureKind, tx watcher.Transaction, err error) {
	record := newFailure(kind, tx.Hash, tx.Block, err)
	metrics.Failures.WithLabelValues(string(kind)).Inc()

	fields := []zap.Field{
		zap.String("id", record.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("tx", tx.Hash.Hex()),
		zap.Uint64("block", tx.Block),
		zap.Error(err),
	}
	if kind == KindSkip {
		r.logger.Info("Target transaction skipped", fields...)
	} else {
		r.logger.Warn("Target transaction not mirrored", fields...)
	}

	r.statsMu.Lock()
	r.stats.Failed[kind]++
	r.failures = append(r.failures, record)
	if len(r.failures) > maxRecentFailures {
		r.failures = r.failures[len(r.failures)-maxRecentFailures:]
	}
	hook := r.onFailure
	r.statsMu.Unlock()

	if hook != nil {
		hook(record)
	}
}

// RecentFailures returns the most recent failure records, oldest first.
func (r *Repeater) RecentFailures() []FailureRecord {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return append([]FailureRecord(nil), r.failures...)
}

// GetStats returns a copy of the run statistics.
func (r *Repeater) GetStats() Statistics {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	out := r.stats
	out.Failed = make(map[FailureKind]uint64, len(r.stats.Failed))
	for k, v := range r.stats.Failed {
		out.Failed[k] = v
	}
	return out
}

func (r *Repeater) updateStats(fn func(s *Statistics)) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	fn(&r.stats)
}

func (r *Repeater) statusMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			metrics.LastBlock.Set(float64(r.watcher.GetStatus().LastBlock))
			r.logReport("Repeater status")
		}
	}
}

func (r *Repeater) logReport(msg string) {
	stats := r.GetStats()
	status := r.watcher.GetStatus()
	exec := r.executor.GetExecutionStats()

	var failed uint64
	for _, n := range stats.Failed {
		failed += n
	}

	r.logger.Info(msg,
		zap.Duration("uptime", time.Since(r.startTime).Truncate(time.Second)),
		zap.Uint64("last_block", status.LastBlock),
		zap.Uint64("blocks", status.BlockCount),
		zap.Uint64("observed", stats.Observed),
		zap.Uint64("mirrored", stats.Mirrored),
		zap.Uint64("failed", failed),
		zap.Uint64("skipped", stats.Failed[KindSkip]),
		zap.Uint64("submitted", exec.Submitted),
		zap.Uint64("mined", exec.Mined),
		zap.Uint64("reverted", exec.Reverted))
}
