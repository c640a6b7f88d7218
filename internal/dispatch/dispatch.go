// Package dispatch runs queued agent questions on a bounded worker pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/praveenk20/mongodb-agent-ai/internal/agent"
	"github.com/praveenk20/mongodb-agent-ai/internal/runstore"
	"github.com/praveenk20/mongodb-agent-ai/internal/semantic"
	"github.com/praveenk20/mongodb-agent-ai/internal/usage"
)

var (
	// ErrQueueFull indicates the dispatcher cannot accept new runs right now.
	ErrQueueFull = errors.New("run queue is full")
	// ErrQueueClosed indicates the dispatcher has been shut down.
	ErrQueueClosed = errors.New("run queue is closed")
)

// Runner executes one question against a semantic model. *agent.Agent
// implements it.
type Runner interface {
	Run(ctx context.Context, question, modelName string) (*agent.State, error)
}

// Task is one queued question.
type Task struct {
	RunID     string
	Question  string
	ModelName string
	Attempt   int
}

// Config controls dispatcher behaviour.
type Config struct {
	Workers           int
	QueueSize         int
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// Dispatcher serialises runs per semantic model and retries transient
// failures with backoff.
type Dispatcher struct {
	runner Runner
	store  *runstore.Store
	cfg    Config

	queue chan *queueItem

	keyedLocks *keyedMutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	once sync.Once
}

type queueItem struct {
	task    *Task
	attempt int
}

// New creates a dispatcher with the provided configuration and starts its
// workers.
func New(runner Runner, store *runstore.Store, cfg Config) *Dispatcher {
	normalized := normalizeConfig(cfg)
	d := &Dispatcher{
		runner:     runner,
		store:      store,
		cfg:        normalized,
		queue:      make(chan *queueItem, normalized.QueueSize),
		keyedLocks: newKeyedMutex(),
		stopCh:     make(chan struct{}),
	}
	d.startWorkers()
	return d
}

func normalizeConfig(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return cfg
}

func (d *Dispatcher) startWorkers() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Enqueue queues a run for execution.
func (d *Dispatcher) Enqueue(task *Task) error {
	if task == nil {
		return errors.New("dispatch enqueue: task is nil")
	}

	select {
	case <-d.stopCh:
		return ErrQueueClosed
	default:
	}

	select {
	case d.queue <- &queueItem{task: task, attempt: 1}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case item, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(item)
		}
	}
}

func (d *Dispatcher) process(item *queueItem) {
	task := item.task
	task.Attempt = item.attempt

	run, err := d.store.Get(task.RunID)
	if err != nil {
		log.Printf("[Dispatcher] Run %s no longer in store, skipping", task.RunID)
		return
	}
	// Superseded or otherwise finished while queued.
	if run.Status == runstore.StatusFailed {
		return
	}

	// Runs against the same semantic model hit the same database;
	// serialize them.
	d.keyedLocks.Lock(task.ModelName)

	d.store.UpdateStatus(task.RunID, runstore.StatusRunning)
	d.store.AddLog(task.RunID, "info", fmt.Sprintf("Attempt %d started", item.attempt))

	state, runErr := d.runner.Run(context.Background(), task.Question, task.ModelName)

	d.keyedLocks.Unlock(task.ModelName)

	if runErr != nil {
		log.Printf("[Dispatcher] Run %s attempt %d failed: %v", task.RunID, item.attempt, runErr)
		if !retryable(runErr) {
			d.store.AddLog(task.RunID, "error", runErr.Error())
			d.store.Fail(task.RunID, runErr.Error())
			return
		}
		d.handleRetry(item, runErr)
		return
	}

	// The agent's router already classified these as fatal.
	if state.ErrorText != "" {
		log.Printf("[Dispatcher] Run %s ended with error: %s", task.RunID, state.ErrorText)
		d.store.AddLog(task.RunID, "error", state.ErrorText)
		d.store.Fail(task.RunID, state.ErrorText)
		return
	}

	d.store.AddLog(task.RunID, "success", state.ResultSummary)
	d.store.Complete(task.RunID, runstore.Outcome{
		Answer:      state.Answer,
		Query:       state.GeneratedQuery,
		Collection:  state.Collection,
		Database:    state.Database,
		ResultCount: state.ResultCount,
		Documents:   state.Documents,
		Iterations:  state.Iterations,
		Duration:    state.Timings["total"],
	})
	log.Printf("[Dispatcher] Run %s attempt %d succeeded", task.RunID, item.attempt)
}

// retryable reports whether a runner error is worth another attempt. Unknown
// models and exhausted call budgets stay failed; everything else is treated
// as a transient LLM or transport failure.
func retryable(err error) bool {
	var notFound *semantic.NotFoundError
	if errors.As(err, &notFound) {
		return false
	}
	var limit *usage.LimitError
	if errors.As(err, &limit) {
		return false
	}
	return true
}

func (d *Dispatcher) handleRetry(item *queueItem, execErr error) {
	if item.attempt >= d.cfg.MaxAttempts {
		log.Printf("[Dispatcher] Run %s exceeded max attempts (%d): %v", item.task.RunID, d.cfg.MaxAttempts, execErr)
		d.store.AddLog(item.task.RunID, "error", fmt.Sprintf("Giving up after %d attempts: %v", item.attempt, execErr))
		d.store.Fail(item.task.RunID, execErr.Error())
		return
	}

	nextAttempt := item.attempt + 1
	delay := d.backoffDuration(nextAttempt)
	log.Printf("[Dispatcher] Scheduling retry %d for run %s in %s", nextAttempt, item.task.RunID, delay)
	d.store.AddLog(item.task.RunID, "error", fmt.Sprintf("Attempt %d failed: %v; retrying in %s", item.attempt, execErr, delay))
	d.store.UpdateStatus(item.task.RunID, runstore.StatusPending)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			d.enqueueRetry(&queueItem{
				task:    item.task,
				attempt: nextAttempt,
			})
		case <-d.stopCh:
			return
		}
	}()
}

func (d *Dispatcher) enqueueRetry(item *queueItem) {
	for {
		select {
		case <-d.stopCh:
			return
		case d.queue <- item:
			return
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (d *Dispatcher) backoffDuration(attempt int) time.Duration {
	backoff := float64(d.cfg.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= d.cfg.BackoffMultiplier
		if backoff >= float64(d.cfg.MaxBackoff) {
			return d.cfg.MaxBackoff
		}
	}
	return time.Duration(backoff)
}

// Shutdown stops the workers and waits for in-flight runs, up to the context
// deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.once.Do(func() {
		close(d.stopCh)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return
	case <-done:
		return
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	k.mu.Unlock()

	if !ok {
		return
	}

	m.Unlock()
}
