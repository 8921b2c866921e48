// Package executor runs cells against the connected kernel and feeds the
// reconciled output into the notebook store.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/notebookd/internal/kernel"
	"github.com/danmuck/notebookd/internal/notebook"
	"github.com/danmuck/notebookd/internal/observability"
	"github.com/danmuck/notebookd/internal/reconcile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoKernel = errors.New("executor: no kernel connection")

const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeDropped = "dropped_output"
)

// Executor owns the kernel connection and the execute lifecycle of cells.
type Executor struct {
	store     *notebook.Store
	connector kernel.Connector

	connectMu sync.Mutex
	mu        sync.RWMutex
	kernel    kernel.Kernel

	wg sync.WaitGroup
}

func New(store *notebook.Store, connector kernel.Connector) *Executor {
	return &Executor{
		store:     store,
		connector: connector,
	}
}

// Connect establishes a kernel session, replacing any previous one. Failure is
// recorded on the store and returned; calling Connect again retries.
func (e *Executor) Connect(ctx context.Context) error {
	e.connectMu.Lock()
	defer e.connectMu.Unlock()

	e.store.ConnectionStarted()
	k, err := e.connector.Connect(ctx)
	if err != nil {
		// A failed connect leaves no kernel behind.
		e.mu.Lock()
		prev := e.kernel
		e.kernel = nil
		e.mu.Unlock()
		if prev != nil {
			if cerr := prev.Close(); cerr != nil {
				log.Warn().Err(cerr).Str("kernel", prev.ID()).Msg("executor.Connect close previous kernel")
			}
		}
		e.store.ConnectionFailed(err.Error())
		log.Error().Err(err).Msg("executor.Connect kernel unavailable")
		return err
	}

	e.mu.Lock()
	prev := e.kernel
	e.kernel = k
	e.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	e.store.ConnectionSucceeded(k.ID())
	log.Info().Str("kernel", k.ID()).Msg("executor.Connect ready")
	return nil
}

// Kernel returns the current kernel, if connected.
func (e *Executor) Kernel() (kernel.Kernel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.kernel, e.kernel != nil
}

// Pending lists the submissions the current kernel has not completed.
func (e *Executor) Pending() []kernel.Pending {
	k, ok := e.Kernel()
	if !ok {
		return []kernel.Pending{}
	}
	return k.Pending()
}

// Execute runs the cell and blocks until the kernel reports completion.
func (e *Executor) Execute(ctx context.Context, cellID string) (reconcile.Summary, error) {
	k, cell, err := e.begin(cellID)
	if err != nil {
		return reconcile.Summary{}, err
	}
	return e.run(ctx, k, cell)
}

// Start marks the cell active and runs it in the background. Errors that prevent
// the execution from starting are returned synchronously.
func (e *Executor) Start(ctx context.Context, cellID string) error {
	k, cell, err := e.begin(cellID)
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, _ = e.run(ctx, k, cell)
	}()
	return nil
}

// Wait blocks until background executions finish.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Close drops the kernel session.
func (e *Executor) Close() error {
	e.mu.Lock()
	k := e.kernel
	e.kernel = nil
	e.mu.Unlock()
	if k == nil {
		return nil
	}
	e.store.ConnectionLost("")
	return k.Close()
}

func (e *Executor) begin(cellID string) (kernel.Kernel, notebook.Cell, error) {
	k, ok := e.Kernel()
	if !ok {
		return nil, notebook.Cell{}, ErrNoKernel
	}
	cell, err := e.store.BeginExecution(cellID)
	if err != nil {
		return nil, notebook.Cell{}, err
	}
	return k, cell, nil
}

func (e *Executor) run(ctx context.Context, k kernel.Kernel, cell notebook.Cell) (reconcile.Summary, error) {
	start := time.Now()
	logger := log.With().Str("cell", cell.ID).Str("kernel", k.ID()).Logger()
	defer func() {
		if err := e.store.EndExecution(cell.ID); err != nil {
			logger.Warn().Err(err).Msg("executor.run end execution")
		}
	}()

	stream, err := k.Submit(ctx, cell.Code)
	if err != nil {
		e.handleKernelError(k, err)
		e.recordFailure(logger, cell.ID, err)
		observability.RecordExecution(OutcomeError, time.Since(start))
		logger.Error().Err(err).Msg("executor.run submit failed")
		return reconcile.Summary{}, fmt.Errorf("submit cell %s: %w", cell.ID, err)
	}

	r := reconcile.New(logger)
	summary, err := r.Run(ctx, stream, func(rec reconcile.Record) {
		if err := e.store.AppendOutput(cell.ID, rec); err != nil {
			logger.Warn().Err(err).Str("record", rec.ID).Msg("executor.run append output")
		}
	})
	if err != nil {
		e.handleKernelError(k, err)
		e.recordFailure(logger, cell.ID, err)
		observability.RecordExecution(OutcomeError, time.Since(start))
		logger.Error().Err(err).Interface("summary", summary).Msg("executor.run stream failed")
		return summary, fmt.Errorf("execute cell %s: %w", cell.ID, err)
	}

	outcome := OutcomeOK
	if summary.Dropped > 0 {
		outcome = OutcomeDropped
	}
	observability.RecordExecution(outcome, time.Since(start))
	logger.Info().
		Int("run", summary.RunIndex).
		Int("emitted", summary.Emitted).
		Int("dropped", summary.Dropped).
		Int("skipped", summary.Skipped).
		Dur("duration", time.Since(start)).
		Msg("executor.run complete")
	return summary, nil
}

func (e *Executor) recordFailure(logger zerolog.Logger, cellID string, err error) {
	if serr := e.store.ExecutionFailed(cellID, err.Error()); serr != nil {
		logger.Warn().Err(serr).Msg("executor.run record failure")
	}
}

// handleKernelError forgets k when its connection is gone so the presentation
// layer disables execution until a reconnect.
func (e *Executor) handleKernelError(k kernel.Kernel, err error) {
	if !errors.Is(err, kernel.ErrClosed) {
		return
	}
	e.mu.Lock()
	if e.kernel != k {
		e.mu.Unlock()
		return
	}
	e.kernel = nil
	e.mu.Unlock()
	e.store.ConnectionLost(err.Error())
}
