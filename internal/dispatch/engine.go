package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"wabot/internal/eventbus"
	"wabot/internal/sender"
	"wabot/internal/storage"
	"wabot/internal/window"
	logx "wabot/pkg/logx"
)

// Engine is the dispatch core: it owns the task queue, matches free sender
// identities to queued jobs, runs the per-job send sequences, applies the
// retry/escalation policy and fails safe when the inbound watchdog trips.
//
// All shared state (queue, pause flags, failure flag, in-flight set) lives
// behind one mutex; sequences run on their own goroutines and come back
// through the same lock.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	log      logx.Logger
	bus      eventbus.Bus
	pool     *sender.Pool
	store    Store // may be nil
	win      windowStore
	tracker  *window.Tracker
	msgr     Messenger
	resolver Resolver
	now      func() time.Time

	queue    jobQueue
	inFlight map[string]struct{}

	paused       bool
	windowPaused bool
	backoffTimer *time.Timer
	retryTimers  map[string]*time.Timer

	failed  bool
	failMsg string

	dog *watchdog

	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// Options carries the engine's optional collaborators.
type Options struct {
	Log      logx.Logger
	Bus      eventbus.Bus
	Store    Store
	Resolver Resolver
}

func New(cfg Config, pool *sender.Pool, msgr Messenger, opts Options) *Engine {
	cfg = cfg.normalize()
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		cfg:         cfg,
		log:         log,
		bus:         opts.Bus,
		pool:        pool,
		store:       opts.Store,
		msgr:        msgr,
		resolver:    opts.Resolver,
		now:         time.Now,
		inFlight:    map[string]struct{}{},
		retryTimers: map[string]*time.Timer{},
	}
	if opts.Store != nil {
		e.win = opts.Store
	} else {
		e.win = &memWindows{m: map[string]time.Time{}}
	}
	e.tracker = window.NewTracker(e.win)
	e.dog = newWatchdog(cfg.WatchdogTimeout, func() {
		e.trip("no inbound confirmation within " + cfg.WatchdogTimeout.String())
	})
	return e
}

// SetNow overrides the clock for the engine and its window tracker.
// Test hook only.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
	e.tracker.SetNow(now)
}

// Apply hot-reloads tunables. In-flight sequences keep the delays they
// started with; the next dispatch picks up the new values.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.normalize()
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.dog.setTimeout(cfg.WatchdogTimeout)
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Start rehydrates persisted jobs and begins dispatching.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.started = true
	runCtx := e.runCtx
	e.mu.Unlock()

	if e.store != nil {
		jobs, err := e.store.PendingJobs(runCtx)
		if err != nil {
			e.mu.Lock()
			e.started = false
			e.mu.Unlock()
			e.runCancel()
			return fmt.Errorf("rehydrate queue: %w", err)
		}
		e.mu.Lock()
		for _, j := range jobs {
			// A job caught mid-sequence by the previous shutdown goes back
			// to pending; it restarts from the top.
			j.Status = storage.StatusPending
			j.Sender = ""
			e.queue.PushBack(j)
		}
		n := e.queue.Len()
		e.mu.Unlock()
		if n > 0 {
			e.log.Info("queue rehydrated", logx.Int("jobs", n))
		}
	}

	e.log.Info("dispatch engine started",
		logx.Int("pool_size", e.pool.Size()),
		logx.Duration("watchdog_timeout", e.config().WatchdogTimeout),
	)
	e.tick()
	return nil
}

// Stop cancels in-flight sequences and waits for them up to ctx's deadline.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	if e.backoffTimer != nil {
		e.backoffTimer.Stop()
		e.backoffTimer = nil
	}
	for _, t := range e.retryTimers {
		t.Stop()
	}
	e.retryTimers = map[string]*time.Timer{}
	cancel := e.runCancel
	e.mu.Unlock()

	e.dog.disarm()
	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		e.log.Info("dispatch engine stopped")
		return nil
	}
}

// EnqueueBatch persists a batch of jobs as pending, appends them to the
// queue and kicks dispatch. Returns the assigned job ids in order.
func (e *Engine) EnqueueBatch(ctx context.Context, recipient string, payloadRefs []string) ([]string, error) {
	if recipient == "" {
		return nil, errors.New("enqueue: recipient is required")
	}
	if len(payloadRefs) == 0 {
		return nil, errors.New("enqueue: no payloads")
	}
	now := e.now()
	jobs := make([]storage.Job, len(payloadRefs))
	for i, ref := range payloadRefs {
		jobs[i] = storage.Job{
			ID:         uuid.NewString(),
			Recipient:  recipient,
			PayloadRef: ref,
			Status:     storage.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	if e.store != nil {
		created, err := e.store.CreateJobs(ctx, jobs)
		if err != nil {
			return nil, fmt.Errorf("persist batch: %w", err)
		}
		jobs = created
	}

	ids := make([]string, len(jobs))
	e.mu.Lock()
	for i, j := range jobs {
		ids[i] = j.ID
		e.queue.PushBack(j)
	}
	qlen := e.queue.Len()
	e.mu.Unlock()

	e.log.Info("jobs enqueued",
		logx.String("recipient", recipient),
		logx.Int("count", len(jobs)),
		logx.Int("queue_len", qlen),
	)
	e.publishQueue(qlen)
	e.tick()
	return ids, nil
}

// Confirm is called by the inbound webhook for every recipient reply.
// It feeds the watchdog; business bookkeeping happens upstream.
func (e *Engine) Confirm(recipient string) {
	e.log.Debug("inbound confirmation", logx.String("recipient", recipient))
	e.dog.reset()
}

// Pause stops pulling new jobs; in-flight sequences finish normally.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.log.Info("dispatch paused by operator")
}

func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.log.Info("dispatch resumed by operator")
	e.tick()
}

// ClearQueue drops every queued job and marks the persisted ones cancelled.
// In-flight sequences are not interrupted.
func (e *Engine) ClearQueue(ctx context.Context) int {
	e.mu.Lock()
	dropped := e.queue.Drain()
	for _, t := range e.retryTimers {
		t.Stop()
	}
	e.retryTimers = map[string]*time.Timer{}
	idle := len(e.inFlight) == 0
	e.mu.Unlock()

	if idle {
		e.dog.disarm()
	}
	if e.store != nil {
		// Only queued jobs: anything in flight will record its own outcome.
		if _, err := e.store.CancelPending(ctx, false); err != nil {
			e.log.Error("cancel pending jobs failed", logx.Err(err))
		}
	}
	e.log.Info("queue cleared", logx.Int("dropped", len(dropped)))
	e.publishQueue(0)
	return len(dropped)
}

// ResetFailure clears the system-failure flag set by the watchdog.
// Manual recovery only; dispatch resumes on the next tick.
func (e *Engine) ResetFailure() {
	e.mu.Lock()
	if !e.failed {
		e.mu.Unlock()
		return
	}
	e.failed = false
	e.failMsg = ""
	e.mu.Unlock()

	e.log.Info("system failure flag cleared; dispatch resuming")
	e.publish(eventbus.Event{Type: eventbus.TypeSystemResume})
	e.tick()
}

// Activate runs the activation sequence for a recipient on demand, outside
// the queue. It borrows a free identity and blocks until the sequence ends.
func (e *Engine) Activate(ctx context.Context, recipient string) error {
	if recipient == "" {
		return errors.New("activate: recipient is required")
	}
	e.mu.Lock()
	switch {
	case !e.started:
		e.mu.Unlock()
		return errors.New("activate: engine not running")
	case e.failed:
		e.mu.Unlock()
		return errors.New("activate: system failure flag set; reset first")
	}
	e.mu.Unlock()

	ident, ok := e.pool.Acquire()
	if !ok {
		return errors.New("activate: no free sender identity")
	}
	defer func() {
		e.pool.Release(ident)
		e.afterRelease()
	}()
	return e.runActivation(ctx, recipient, ident)
}

// WindowState classifies a recipient's session window on demand.
func (e *Engine) WindowState(ctx context.Context, recipient string) (window.State, error) {
	return e.tracker.Classify(ctx, recipient)
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	snap := Snapshot{
		QueueLength:  e.queue.Len(),
		InFlight:     len(e.inFlight),
		Paused:       e.paused,
		WindowPaused: e.windowPaused,
		Failed:       e.failed,
		FailureMsg:   e.failMsg,
	}
	e.mu.Unlock()
	snap.PoolSize = e.pool.Size()
	snap.Available = e.pool.Available()
	return snap
}

// tick matches free identities to queued jobs. Idempotent; safe to call
// from anywhere; a no-op when no progress can be made.
func (e *Engine) tick() {
	e.mu.Lock()
	if !e.started || e.failed || e.paused || e.windowPaused {
		e.mu.Unlock()
		return
	}
	ctx := e.runCtx
	for {
		head, ok := e.queue.Peek()
		if !ok {
			if len(e.inFlight) == 0 {
				e.dog.disarm()
			}
			break
		}

		st, err := e.tracker.Classify(ctx, head.Recipient)
		if err != nil {
			e.log.Error("window classify failed", logx.String("recipient", head.Recipient), logx.Err(err))
			e.scheduleRecheckLocked(e.cfg.WindowBackoff)
			break
		}
		e.publishWindow(st)
		if st.Blocked() {
			// Head-of-line: one blocked recipient stalls the whole queue
			// until the backoff re-check. Known simplification.
			e.log.Info("dispatch holding for recipient window",
				logx.String("recipient", head.Recipient),
				logx.String("status", string(st.Status)),
				logx.Duration("backoff", e.cfg.WindowBackoff),
			)
			e.scheduleRecheckLocked(e.cfg.WindowBackoff)
			break
		}

		ident, ok := e.pool.Acquire()
		if !ok {
			break
		}
		job, _ := e.queue.PopFront()
		job.Status = storage.StatusProcessing
		job.Sender = ident.PhoneID
		if err := e.persist(ctx, job); err != nil {
			// Transient storage fault: put the job back, free the slot,
			// try again later.
			e.log.Error("persist processing status failed; requeueing",
				logx.String("job", job.ID), logx.Err(err))
			job.Status = storage.StatusPending
			job.Sender = ""
			e.queue.PushFront(job)
			e.pool.Release(ident)
			e.scheduleRecheckLocked(e.cfg.TaskSeparation)
			break
		}
		e.inFlight[job.ID] = struct{}{}
		e.dog.arm()
		e.publishJob(eventbus.TypeJobStarted, job, nil)
		e.wg.Add(1)
		go e.runJob(ctx, job, ident)
	}
	qlen := e.queue.Len()
	e.mu.Unlock()
	e.publishCounts(qlen)
}

// scheduleRecheckLocked pauses dispatch and re-ticks after d.
// Caller holds e.mu.
func (e *Engine) scheduleRecheckLocked(d time.Duration) {
	e.windowPaused = true
	if e.backoffTimer != nil {
		e.backoffTimer.Stop()
	}
	e.backoffTimer = time.AfterFunc(d, func() {
		e.mu.Lock()
		e.windowPaused = false
		started := e.started
		e.mu.Unlock()
		if started {
			e.tick()
		}
	})
}

// runJob drives one job through its sequence on a dedicated goroutine,
// then frees the identity and re-ticks after the inter-task spacing.
func (e *Engine) runJob(ctx context.Context, job storage.Job, ident sender.Identity) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in job sequence",
				logx.String("job", job.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			// A panicking step is a failed attempt like any other; the
			// retry policy decides whether the job comes back.
			e.onFailure(ctx, job, fmt.Errorf("sequence panic: %v", r))
		}
		e.pool.Release(ident)
		e.afterRelease()
	}()

	st, err := e.tracker.Classify(ctx, job.Recipient)
	if err != nil {
		e.log.Error("window classify failed in sequence", logx.String("job", job.ID), logx.Err(err))
		e.requeueFront(ctx, job)
		return
	}

	if st.Status == window.StatusInactive {
		// No open window: the job goes back to the head of the queue and
		// this slot runs the paid activation instead. The original job
		// re-enters the normal path once re-dispatched.
		e.requeueFront(ctx, job)
		e.runActivation(ctx, job.Recipient, ident)
		return
	}
	if st.Blocked() {
		// The window moved between dispatch and here; let the scheduler
		// handle the pause.
		e.requeueFront(ctx, job)
		return
	}

	if err := e.sendSequence(ctx, job, ident); err != nil {
		e.onFailure(ctx, job, err)
		return
	}
	e.onSuccess(ctx, job)
}

func (e *Engine) sendSequence(ctx context.Context, job storage.Job, ident sender.Identity) error {
	cfg := e.config()
	if err := e.msgr.SendText(ctx, ident, job.Recipient, cfg.WakeText); err != nil {
		return fmt.Errorf("wake text: %w", err)
	}
	if err := sleep(ctx, cfg.Delay1); err != nil {
		return err
	}
	if err := e.msgr.SendText(ctx, ident, job.Recipient, cfg.PacingText); err != nil {
		return fmt.Errorf("pacing text: %w", err)
	}
	if err := sleep(ctx, cfg.Delay2); err != nil {
		return err
	}
	url, err := e.resolveURL(job.PayloadRef)
	if err != nil {
		return fmt.Errorf("resolve payload: %w", err)
	}
	if err := e.msgr.SendImage(ctx, ident, job.Recipient, url); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	return sleep(ctx, cfg.Settle)
}

func (e *Engine) runActivation(ctx context.Context, recipient string, ident sender.Identity) error {
	cfg := e.config()
	e.log.Info("running activation sequence",
		logx.String("recipient", recipient),
		logx.String("template", cfg.ActivationTemplate),
	)
	err := func() error {
		if err := e.msgr.SendTemplate(ctx, ident, recipient, cfg.ActivationTemplate, cfg.ActivationLanguage); err != nil {
			return fmt.Errorf("template: %w", err)
		}
		if err := sleep(ctx, cfg.Delay1); err != nil {
			return err
		}
		if err := e.msgr.SendText(ctx, ident, recipient, cfg.PacingText); err != nil {
			return fmt.Errorf("pacing text: %w", err)
		}
		if err := sleep(ctx, cfg.Delay2); err != nil {
			return err
		}
		url, rerr := e.resolveURL(cfg.ActivationImage)
		if rerr != nil {
			return fmt.Errorf("resolve activation image: %w", rerr)
		}
		if err := e.msgr.SendImage(ctx, ident, recipient, url); err != nil {
			return fmt.Errorf("activation image: %w", err)
		}
		return sleep(ctx, cfg.ActivationSettle)
	}()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		// The window stays untouched; a requeued job will trigger another
		// activation on its next dispatch.
		e.log.Warn("activation sequence failed", logx.String("recipient", recipient), logx.Err(err))
		return err
	}

	at := e.now()
	if err := e.win.UpsertWindow(ctx, recipient, at); err != nil {
		e.log.Error("persist activation window failed", logx.String("recipient", recipient), logx.Err(err))
		return err
	}
	e.log.Info("session window activated", logx.String("recipient", recipient))
	e.publish(eventbus.Event{Type: eventbus.TypeActivation, Data: eventbus.WindowEvent{
		Recipient: recipient,
		Status:    string(window.StatusCoolDown),
		Detail:    "activated just now",
	}})
	return nil
}

// requeueFront returns a job to the head of the queue without consuming an
// attempt (used for window blocks and transient persistence faults).
func (e *Engine) requeueFront(ctx context.Context, job storage.Job) {
	e.mu.Lock()
	delete(e.inFlight, job.ID)
	if e.failed || !e.started {
		e.mu.Unlock()
		return
	}
	job.Status = storage.StatusPending
	job.Sender = ""
	e.queue.PushFront(job)
	qlen := e.queue.Len()
	e.mu.Unlock()

	if err := e.persist(ctx, job); err != nil {
		e.log.Error("persist pending status failed", logx.String("job", job.ID), logx.Err(err))
	}
	e.publishQueue(qlen)
}

func (e *Engine) onSuccess(ctx context.Context, job storage.Job) {
	e.mu.Lock()
	delete(e.inFlight, job.ID)
	e.mu.Unlock()

	job.Status = storage.StatusSent
	if err := e.persist(ctx, job); err != nil {
		e.log.Error("persist sent status failed", logx.String("job", job.ID), logx.Err(err))
	}
	e.log.Info("job sent",
		logx.String("job", job.ID),
		logx.String("recipient", job.Recipient),
		logx.Int("attempts", job.Attempts),
	)
	e.publishJob(eventbus.TypeJobSent, job, nil)
}

// onFailure applies the retry/escalation policy: below the retry cap the
// job goes to the back of the queue after a jittered exponential backoff;
// past it the job is permanently failed.
func (e *Engine) onFailure(ctx context.Context, job storage.Job, cause error) {
	e.mu.Lock()
	delete(e.inFlight, job.ID)
	halted := e.failed || !e.started
	cfg := e.cfg
	e.mu.Unlock()

	if halted || errors.Is(cause, context.Canceled) {
		return
	}

	if job.Attempts < cfg.RetryMax {
		job.Attempts++
		job.Status = storage.StatusRetry
		job.Sender = ""
		if err := e.persist(ctx, job); err != nil {
			e.log.Error("persist retry status failed", logx.String("job", job.ID), logx.Err(err))
		}
		delay := backoffDelay(cfg.RetryBase, cfg.RetryMaxDelay, job.Attempts)
		e.log.Warn("job failed; retry scheduled",
			logx.String("job", job.ID),
			logx.String("recipient", job.Recipient),
			logx.Int("attempt", job.Attempts),
			logx.Duration("delay", delay),
			logx.Err(cause),
		)
		e.publishJob(eventbus.TypeJobRetry, job, cause)

		e.mu.Lock()
		if !e.started || e.failed {
			e.mu.Unlock()
			return
		}
		jid := job.ID
		j := job
		e.retryTimers[jid] = time.AfterFunc(delay, func() {
			e.mu.Lock()
			delete(e.retryTimers, jid)
			if !e.started || e.failed {
				e.mu.Unlock()
				return
			}
			e.queue.PushBack(j)
			qlen := e.queue.Len()
			e.mu.Unlock()
			e.publishQueue(qlen)
			e.tick()
		})
		e.mu.Unlock()
		return
	}

	job.Status = storage.StatusFailed
	if err := e.persist(ctx, job); err != nil {
		e.log.Error("persist failed status failed", logx.String("job", job.ID), logx.Err(err))
	}
	e.log.Error("job permanently failed",
		logx.String("job", job.ID),
		logx.String("recipient", job.Recipient),
		logx.Int("attempts", job.Attempts),
		logx.Err(cause),
	)
	e.publishJob(eventbus.TypeJobFailed, job, cause)
}

// trip is the watchdog's fail-safe: halt dispatch, purge the queue, and
// wait for a human.
func (e *Engine) trip(msg string) {
	e.mu.Lock()
	if e.failed || !e.started {
		e.mu.Unlock()
		return
	}
	e.failed = true
	e.failMsg = msg
	dropped := e.queue.Drain()
	for _, t := range e.retryTimers {
		t.Stop()
	}
	e.retryTimers = map[string]*time.Timer{}
	if e.backoffTimer != nil {
		e.backoffTimer.Stop()
		e.windowPaused = false
	}
	ctx := e.runCtx
	e.mu.Unlock()

	e.dog.disarm()
	e.log.Error("inbound pipeline silent; dispatch halted",
		logx.String("reason", msg),
		logx.Int("dropped", len(dropped)),
	)
	if e.store != nil {
		// Broad cancel: in-flight sequences are abandoned by the halt and
		// would otherwise stay "processing" forever.
		if n, err := e.store.CancelPending(ctx, true); err != nil {
			e.log.Error("cancel pending jobs failed", logx.Err(err))
		} else if n > 0 {
			e.log.Warn("persisted jobs cancelled", logx.Int("count", n))
		}
	}
	e.publish(eventbus.Event{Type: eventbus.TypeSystemFailure, Data: eventbus.FailureEvent{Message: msg}})
	e.publishQueue(0)
}

func (e *Engine) afterRelease() {
	e.mu.Lock()
	sep := e.cfg.TaskSeparation
	started := e.started
	qlen := e.queue.Len()
	idle := qlen == 0 && len(e.inFlight) == 0
	e.mu.Unlock()

	// The drain check lives here, not only in tick: a paused engine never
	// ticks, and the watchdog must not trip on an empty, quiet queue.
	if idle {
		e.dog.disarm()
	}
	e.publishCounts(qlen)
	if !started {
		return
	}
	time.AfterFunc(sep, e.tick)
}

func (e *Engine) resolveURL(ref string) (string, error) {
	if e.resolver == nil {
		return ref, nil
	}
	return e.resolver.ResolvePayloadURL(ref)
}

func (e *Engine) persist(ctx context.Context, job storage.Job) error {
	if e.store == nil {
		return nil
	}
	return e.store.UpdateJobStatus(ctx, job.ID, job.Status, job.Attempts, job.Sender)
}

func (e *Engine) publish(ev eventbus.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) publishQueue(length int) {
	e.publish(eventbus.Event{Type: eventbus.TypeQueueUpdate, Data: eventbus.QueueEvent{Length: length}})
}

func (e *Engine) publishCounts(qlen int) {
	e.publishQueue(qlen)
	e.publish(eventbus.Event{Type: eventbus.TypeWorkersUpdate, Data: eventbus.WorkersEvent{
		Available: e.pool.Available(),
		Active:    e.pool.InUse(),
	}})
}

func (e *Engine) publishWindow(st window.State) {
	e.publish(eventbus.Event{Type: eventbus.TypeWindowUpdate, Data: eventbus.WindowEvent{
		Recipient: st.Recipient,
		Status:    string(st.Status),
		Detail:    st.Detail,
	}})
}

func (e *Engine) publishJob(typ string, job storage.Job, cause error) {
	ev := eventbus.JobEvent{ID: job.ID, Recipient: job.Recipient, Attempts: job.Attempts}
	if cause != nil {
		ev.Error = cause.Error()
	}
	e.publish(eventbus.Event{Type: typ, Data: ev})
}

// sleep waits d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// windowStore is the window slice of persistence; the engine reads it for
// classification and writes it on successful activation.
type windowStore interface {
	GetWindow(ctx context.Context, recipient string) (time.Time, bool, error)
	UpsertWindow(ctx context.Context, recipient string, at time.Time) error
}

// memWindows backs the window tracker when storage is disabled.
type memWindows struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (w *memWindows) GetWindow(_ context.Context, recipient string) (time.Time, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.m[recipient]
	return at, ok, nil
}

func (w *memWindows) UpsertWindow(_ context.Context, recipient string, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.m[recipient] = at
	return nil
}
