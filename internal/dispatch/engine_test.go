package dispatch

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"wabot/internal/sender"
	"wabot/internal/storage"
	"wabot/internal/window"
)

// --- fakes ---

type fakeStore struct {
	mu        sync.Mutex
	seq       int64
	jobs      map[string]*storage.Job
	order     []string
	windows   map[string]time.Time
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]*storage.Job{}, windows: map[string]time.Time{}}
}

func (s *fakeStore) CreateJobs(_ context.Context, jobs []storage.Job) ([]storage.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Job, len(jobs))
	for i, j := range jobs {
		s.seq++
		j.Seq = s.seq
		j.Status = storage.StatusPending
		cp := j
		s.jobs[j.ID] = &cp
		s.order = append(s.order, j.ID)
		out[i] = j
	}
	return out, nil
}

func (s *fakeStore) UpdateJobStatus(_ context.Context, id string, status storage.Status, attempts int, sdr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	j, ok := s.jobs[id]
	if !ok {
		return errors.New("no such job: " + id)
	}
	j.Status = status
	j.Attempts = attempts
	j.Sender = sdr
	return nil
}

func (s *fakeStore) PendingJobs(_ context.Context) ([]storage.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Job
	for _, id := range s.order {
		j := s.jobs[id]
		switch j.Status {
		case storage.StatusPending, storage.StatusProcessing, storage.StatusRetry:
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
	return out, nil
}

func (s *fakeStore) CancelPending(_ context.Context, includeProcessing bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		switch j.Status {
		case storage.StatusPending, storage.StatusRetry:
		case storage.StatusProcessing:
			if !includeProcessing {
				continue
			}
		default:
			continue
		}
		j.Status = storage.StatusCancelled
		n++
	}
	return n, nil
}

func (s *fakeStore) PruneJobs(_ context.Context, _ time.Time) (int, error) { return 0, nil }

func (s *fakeStore) UpsertWindow(_ context.Context, recipient string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[recipient] = at
	return nil
}

func (s *fakeStore) GetWindow(_ context.Context, recipient string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.windows[recipient]
	return at, ok, nil
}

func (s *fakeStore) status(id string) storage.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.Status
	}
	return ""
}

func (s *fakeStore) attempts(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.Attempts
	}
	return -1
}

func (s *fakeStore) hasWindow(recipient string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.windows[recipient]
	return ok
}

type sentCall struct {
	kind string // "text", "template", "image"
	from string
	to   string
	body string // text body, template name, or image url
	at   time.Time
}

type fakeMessenger struct {
	mu    sync.Mutex
	calls []sentCall

	onText     func(to, body string) error
	onTemplate func(to, name string) error
	onImage    func(ctx context.Context, to, url string) error
}

func (m *fakeMessenger) record(kind string, from sender.Identity, to, body string) {
	m.mu.Lock()
	m.calls = append(m.calls, sentCall{kind: kind, from: from.PhoneID, to: to, body: body, at: time.Now()})
	m.mu.Unlock()
}

func (m *fakeMessenger) SendText(_ context.Context, from sender.Identity, to, body string) error {
	m.record("text", from, to, body)
	if m.onText != nil {
		return m.onText(to, body)
	}
	return nil
}

func (m *fakeMessenger) SendTemplate(_ context.Context, from sender.Identity, to, name, _ string) error {
	m.record("template", from, to, name)
	if m.onTemplate != nil {
		return m.onTemplate(to, name)
	}
	return nil
}

func (m *fakeMessenger) SendImage(ctx context.Context, from sender.Identity, to, url string) error {
	m.record("image", from, to, url)
	if m.onImage != nil {
		return m.onImage(ctx, to, url)
	}
	return nil
}

func (m *fakeMessenger) snapshot() []sentCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *fakeMessenger) count(kind string) int {
	n := 0
	for _, c := range m.snapshot() {
		if c.kind == kind {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// --- helpers ---

func fastConfig() Config {
	return Config{
		Delay1:           2 * time.Millisecond,
		Delay2:           2 * time.Millisecond,
		Settle:           time.Millisecond,
		ActivationSettle: time.Millisecond,
		TaskSeparation:   time.Millisecond,
		WindowBackoff:    5 * time.Millisecond,
		WatchdogTimeout:  time.Minute,
		RetryMax:         3,
		RetryBase:        time.Millisecond,
		RetryMaxDelay:    2 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, cfg Config, st *fakeStore, msgr *fakeMessenger, slots int) *Engine {
	t.Helper()
	ids := make([]string, slots)
	toks := make([]string, slots)
	for i := range ids {
		ids[i] = "ph-" + string(rune('0'+i))
		toks[i] = "tok"
	}
	pool, err := sender.NewPool(ids, toks)
	if err != nil {
		t.Fatalf("NewPool error: %v", err)
	}
	var store Store
	if st != nil {
		store = st
	}
	return New(cfg, pool, msgr, Options{Store: store})
}

func startEngine(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func activeSince(st *fakeStore, recipient string, ago time.Duration) {
	_ = st.UpsertWindow(context.Background(), recipient, time.Now().Add(-ago))
}

// --- tests ---

func TestSendSequenceForActiveRecipient(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)
	msgr := &fakeMessenger{}
	e := newTestEngine(t, fastConfig(), st, msgr, 1)
	startEngine(t, e)

	ids, err := e.EnqueueBatch(context.Background(), "111", []string{"photo.jpeg"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}
	waitFor(t, "job sent", func() bool { return st.status(ids[0]) == storage.StatusSent })

	calls := msgr.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected 3 steps, got %+v", calls)
	}
	if calls[0].kind != "text" || calls[0].body != "activar" {
		t.Fatalf("step 1 = %+v, want wake text", calls[0])
	}
	if calls[1].kind != "text" || calls[1].body != "3" {
		t.Fatalf("step 2 = %+v, want pacing text", calls[1])
	}
	if calls[2].kind != "image" || calls[2].body != "photo.jpeg" {
		t.Fatalf("step 3 = %+v, want payload image", calls[2])
	}
}

func TestInactiveRecipientActivatesOnceThenSendsInOrder(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	msgr := &fakeMessenger{}
	e := newTestEngine(t, fastConfig(), st, msgr, 1)
	clock := &fakeClock{t: time.Now()}
	e.SetNow(clock.Now)
	startEngine(t, e)

	ids, err := e.EnqueueBatch(context.Background(), "111", []string{"img-1", "img-2", "img-3"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}

	// The first dispatch finds no window and runs the activation sequence.
	waitFor(t, "window activated", func() bool { return st.hasWindow("111") })
	// Step past the cooldown so the requeued jobs become dispatchable.
	clock.Advance(11 * time.Minute)

	waitFor(t, "all jobs sent", func() bool {
		for _, id := range ids {
			if st.status(id) != storage.StatusSent {
				return false
			}
		}
		return true
	})

	calls := msgr.snapshot()
	if n := msgr.count("template"); n != 1 {
		t.Fatalf("activation templates sent = %d, want exactly 1", n)
	}
	// The template precedes every wake text.
	tmplIdx := -1
	for i, c := range calls {
		if c.kind == "template" {
			tmplIdx = i
			break
		}
	}
	for i, c := range calls {
		if c.kind == "text" && c.body == "activar" && i < tmplIdx {
			t.Fatalf("wake text at %d before activation template at %d", i, tmplIdx)
		}
	}
	// Payloads complete in original relative order.
	var images []string
	for _, c := range calls {
		if c.kind == "image" && strings.HasPrefix(c.body, "img-") {
			images = append(images, c.body)
		}
	}
	want := []string{"img-1", "img-2", "img-3"}
	if len(images) != 3 || images[0] != want[0] || images[1] != want[1] || images[2] != want[2] {
		t.Fatalf("payload order = %v, want %v", images, want)
	}
}

func TestManualActivationOpensWindow(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	msgr := &fakeMessenger{}
	e := newTestEngine(t, fastConfig(), st, msgr, 1)

	if err := e.Activate(context.Background(), "111"); err == nil {
		t.Fatal("Activate before Start must fail")
	}
	startEngine(t, e)

	if err := e.Activate(context.Background(), ""); err == nil {
		t.Fatal("empty recipient must be rejected")
	}
	if err := e.Activate(context.Background(), "111"); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	if !st.hasWindow("111") {
		t.Fatal("activation window not persisted")
	}
	if msgr.count("template") != 1 || msgr.count("image") != 1 {
		t.Fatalf("calls = %+v", msgr.snapshot())
	}
	// The borrowed identity must come back to the pool.
	waitFor(t, "slot released", func() bool { return e.Snapshot().Available == 1 })
}

func TestRetryEscalationToPermanentFailure(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)
	msgr := &fakeMessenger{}
	msgr.onText = func(to, body string) error {
		if body == "activar" {
			return errors.New("remote rejected")
		}
		return nil
	}
	e := newTestEngine(t, fastConfig(), st, msgr, 1)
	startEngine(t, e)

	ids, err := e.EnqueueBatch(context.Background(), "111", []string{"img"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}
	waitFor(t, "permanent failure", func() bool {
		return st.status(ids[0]) == storage.StatusFailed
	})

	// 1 initial + 3 retries = 4 attempts at the wake step.
	if n := msgr.count("text"); n != 4 {
		t.Fatalf("wake attempts = %d, want 4", n)
	}
	if a := st.attempts(ids[0]); a != 3 {
		t.Fatalf("persisted attempts = %d, want 3", a)
	}
}

func TestWatchdogTripsOnSilenceAndResetResumes(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)
	activeSince(st, "222", time.Hour)

	release := make(chan struct{})
	var blockOnce sync.Once
	blocked := false
	var mu sync.Mutex
	msgr := &fakeMessenger{}
	msgr.onImage = func(ctx context.Context, to, url string) error {
		var block bool
		blockOnce.Do(func() {
			mu.Lock()
			blocked = true
			mu.Unlock()
			block = true
		})
		if block {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	cfg := fastConfig()
	cfg.WatchdogTimeout = 30 * time.Millisecond
	e := newTestEngine(t, cfg, st, msgr, 1)
	startEngine(t, e)

	ids, err := e.EnqueueBatch(context.Background(), "111", []string{"img-1", "img-2"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}

	// The first job blocks at the payload step with no confirmations; the
	// watchdog must trip and purge the queued second job.
	waitFor(t, "watchdog trip", func() bool { return e.Snapshot().Failed })
	close(release)

	snap := e.Snapshot()
	if snap.QueueLength != 0 {
		t.Fatalf("queue length after trip = %d, want 0", snap.QueueLength)
	}
	if snap.FailureMsg == "" {
		t.Fatal("failure message must be set")
	}
	waitFor(t, "second job cancelled", func() bool {
		return st.status(ids[1]) == storage.StatusCancelled
	})

	// While failed, new work queues but never dispatches.
	before := msgr.count("text")
	ids2, err := e.EnqueueBatch(context.Background(), "222", []string{"img-3"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := msgr.count("text"); n != before {
		t.Fatalf("dispatch ran while failed: %d -> %d text calls", before, n)
	}

	e.ResetFailure()
	waitFor(t, "post-reset job sent", func() bool {
		return st.status(ids2[0]) == storage.StatusSent
	})

	mu.Lock()
	defer mu.Unlock()
	if !blocked {
		t.Fatal("test never exercised the blocking payload step")
	}
}

func TestConfirmationsKeepWatchdogQuiet(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)

	release := make(chan struct{})
	msgr := &fakeMessenger{}
	msgr.onImage = func(ctx context.Context, to, url string) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cfg := fastConfig()
	cfg.WatchdogTimeout = 25 * time.Millisecond
	e := newTestEngine(t, cfg, st, msgr, 1)
	startEngine(t, e)

	ids, err := e.EnqueueBatch(context.Background(), "111", []string{"img"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}

	// Feed confirmations faster than the timeout while the job is blocked.
	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		e.Confirm("111")
	}
	if e.Snapshot().Failed {
		t.Fatal("watchdog tripped despite steady confirmations")
	}
	close(release)
	waitFor(t, "job sent", func() bool { return st.status(ids[0]) == storage.StatusSent })
}

func TestWatchdogTripsUnderSteadyDispatch(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)
	msgr := &fakeMessenger{}

	// Each sequence takes a few ms, so jobs dispatch far more often than the
	// timeout elapses. Dispatching alone must not feed the watchdog.
	cfg := fastConfig()
	cfg.WatchdogTimeout = 40 * time.Millisecond
	e := newTestEngine(t, cfg, st, msgr, 1)
	startEngine(t, e)

	refs := make([]string, 50)
	for i := range refs {
		refs[i] = "img"
	}
	if _, err := e.EnqueueBatch(context.Background(), "111", refs); err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}

	waitFor(t, "watchdog trip despite job stream", func() bool { return e.Snapshot().Failed })
	if qlen := e.Snapshot().QueueLength; qlen != 0 {
		t.Fatalf("queue length after trip = %d, want 0", qlen)
	}
	if sent := msgr.count("image"); sent >= len(refs) {
		t.Fatalf("all %d jobs completed; the trip came too late to matter", sent)
	}
}

func TestPausedDrainDisarmsWatchdog(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)

	release := make(chan struct{})
	msgr := &fakeMessenger{}
	msgr.onImage = func(ctx context.Context, to, url string) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cfg := fastConfig()
	cfg.WatchdogTimeout = 30 * time.Millisecond
	e := newTestEngine(t, cfg, st, msgr, 1)
	startEngine(t, e)

	ids, err := e.EnqueueBatch(context.Background(), "111", []string{"img"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}
	waitFor(t, "job in flight", func() bool { return e.Snapshot().InFlight == 1 })

	// Pause, then let the last in-flight job finish. The drained engine must
	// disarm even though the paused scheduler never ticks again.
	e.Pause()
	close(release)
	waitFor(t, "job sent", func() bool { return st.status(ids[0]) == storage.StatusSent })

	time.Sleep(3 * cfg.WatchdogTimeout)
	if snap := e.Snapshot(); snap.Failed {
		t.Fatalf("spurious trip on a drained, paused engine: %+v", snap)
	}
}

func TestClearQueueSparesInFlightJob(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)

	release := make(chan struct{})
	msgr := &fakeMessenger{}
	msgr.onImage = func(ctx context.Context, to, url string) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e := newTestEngine(t, fastConfig(), st, msgr, 1)
	startEngine(t, e)

	ids, err := e.EnqueueBatch(context.Background(), "111", []string{"img-1", "img-2"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}
	waitFor(t, "first job in flight", func() bool { return e.Snapshot().InFlight == 1 })

	e.ClearQueue(context.Background())
	if got := st.status(ids[0]); got != storage.StatusProcessing {
		t.Fatalf("in-flight job status after clear = %q, want processing", got)
	}
	if got := st.status(ids[1]); got != storage.StatusCancelled {
		t.Fatalf("queued job status after clear = %q, want cancelled", got)
	}

	close(release)
	waitFor(t, "in-flight job sent", func() bool { return st.status(ids[0]) == storage.StatusSent })
}

func TestPanicInSequenceCountsAsFailedAttempt(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)
	msgr := &fakeMessenger{}
	msgr.onText = func(to, body string) error {
		panic("messenger blew up")
	}

	e := newTestEngine(t, fastConfig(), st, msgr, 1)
	startEngine(t, e)

	ids, err := e.EnqueueBatch(context.Background(), "111", []string{"img"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}

	// Every attempt panics at the wake step; the retry policy must walk the
	// job to permanent failure instead of stranding it as processing.
	waitFor(t, "permanent failure", func() bool {
		return st.status(ids[0]) == storage.StatusFailed
	})
	if got := st.attempts(ids[0]); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	waitFor(t, "slot released", func() bool { return e.Snapshot().Available == 1 })
}

func TestTwoIdentitiesRunSequencesConcurrently(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)
	activeSince(st, "222", time.Hour)
	msgr := &fakeMessenger{}

	cfg := fastConfig()
	cfg.Delay1 = 25 * time.Millisecond
	cfg.Delay2 = 25 * time.Millisecond
	e := newTestEngine(t, cfg, st, msgr, 2)
	startEngine(t, e)

	ids1, err := e.EnqueueBatch(context.Background(), "111", []string{"img-a"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}
	ids2, err := e.EnqueueBatch(context.Background(), "222", []string{"img-b"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}

	waitFor(t, "both jobs sent", func() bool {
		return st.status(ids1[0]) == storage.StatusSent && st.status(ids2[0]) == storage.StatusSent
	})

	// Interleaving proof: the second recipient's first step starts before
	// the first recipient's last step finishes.
	calls := msgr.snapshot()
	var firstB, lastA time.Time
	for _, c := range calls {
		if c.to == "222" && (firstB.IsZero() || c.at.Before(firstB)) {
			firstB = c.at
		}
		if c.to == "111" && c.at.After(lastA) {
			lastA = c.at
		}
	}
	if firstB.IsZero() || lastA.IsZero() {
		t.Fatalf("missing calls for one recipient: %+v", calls)
	}
	if !firstB.Before(lastA) {
		t.Fatal("sequences did not overlap; expected concurrent execution")
	}
}

func TestCooldownHeadBlocksQueueThenRecovers(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	msgr := &fakeMessenger{}
	e := newTestEngine(t, fastConfig(), st, msgr, 1)
	clock := &fakeClock{t: time.Now()}
	e.SetNow(clock.Now)
	// Recipient A activated 5 minutes ago (cooldown); B fully active.
	_ = st.UpsertWindow(context.Background(), "aaa", clock.Now().Add(-5*time.Minute))
	_ = st.UpsertWindow(context.Background(), "bbb", clock.Now().Add(-time.Hour))
	startEngine(t, e)

	idsA, err := e.EnqueueBatch(context.Background(), "aaa", []string{"img-a"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}
	idsB, err := e.EnqueueBatch(context.Background(), "bbb", []string{"img-b"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}

	// Head-of-line: B must not dispatch while A's cooldown blocks the head.
	waitFor(t, "window pause", func() bool { return e.Snapshot().WindowPaused })
	if n := len(msgr.snapshot()); n != 0 {
		t.Fatalf("dispatched %d calls while head was window-blocked", n)
	}

	clock.Advance(6 * time.Minute)
	waitFor(t, "both jobs sent", func() bool {
		return st.status(idsA[0]) == storage.StatusSent && st.status(idsB[0]) == storage.StatusSent
	})

	// A's sequence completes before B's starts (single identity, FIFO).
	calls := msgr.snapshot()
	seenB := false
	for _, c := range calls {
		if c.to == "bbb" {
			seenB = true
		}
		if c.to == "aaa" && seenB {
			t.Fatalf("A's step after B started: %+v", calls)
		}
	}
}

func TestPauseResumeAndClearQueue(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)
	msgr := &fakeMessenger{}
	e := newTestEngine(t, fastConfig(), st, msgr, 1)
	startEngine(t, e)

	e.Pause()
	ids, err := e.EnqueueBatch(context.Background(), "111", []string{"img-1", "img-2"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(msgr.snapshot()); n != 0 {
		t.Fatalf("dispatched %d calls while paused", n)
	}

	if dropped := e.ClearQueue(context.Background()); dropped != 2 {
		t.Fatalf("ClearQueue dropped %d, want 2", dropped)
	}
	for _, id := range ids {
		if st.status(id) != storage.StatusCancelled {
			t.Fatalf("job %s = %s, want cancelled", id, st.status(id))
		}
	}

	e.Resume()
	ids2, err := e.EnqueueBatch(context.Background(), "111", []string{"img-3"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}
	waitFor(t, "job sent after resume", func() bool {
		return st.status(ids2[0]) == storage.StatusSent
	})
}

func TestRehydrateDispatchesPersistedJobs(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)
	// Simulate a restart with one job caught mid-sequence.
	seeded, err := st.CreateJobs(context.Background(), []storage.Job{
		{ID: "j1", Recipient: "111", PayloadRef: "img-1"},
		{ID: "j2", Recipient: "111", PayloadRef: "img-2"},
	})
	if err != nil {
		t.Fatalf("seed error: %v", err)
	}
	_ = st.UpdateJobStatus(context.Background(), seeded[0].ID, storage.StatusProcessing, 0, "ph-0")

	msgr := &fakeMessenger{}
	e := newTestEngine(t, fastConfig(), st, msgr, 1)
	startEngine(t, e)

	waitFor(t, "rehydrated jobs sent", func() bool {
		return st.status("j1") == storage.StatusSent && st.status("j2") == storage.StatusSent
	})

	var images []string
	for _, c := range msgr.snapshot() {
		if c.kind == "image" {
			images = append(images, c.body)
		}
	}
	if len(images) != 2 || images[0] != "img-1" || images[1] != "img-2" {
		t.Fatalf("rehydrated order = %v, want [img-1 img-2]", images)
	}
}

func TestTransientPersistFaultRequeuesFront(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	activeSince(st, "111", time.Hour)
	msgr := &fakeMessenger{}
	e := newTestEngine(t, fastConfig(), st, msgr, 1)
	startEngine(t, e)

	// Inject a storage fault before dispatch can mark the job processing,
	// then heal it: the job must survive at the queue head and eventually
	// dispatch with the identity returned to the pool.
	st.mu.Lock()
	st.updateErr = errors.New("disk full")
	st.mu.Unlock()
	ids, err := e.EnqueueBatch(context.Background(), "111", []string{"img"})
	if err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	st.mu.Lock()
	st.updateErr = nil
	st.mu.Unlock()

	waitFor(t, "job sent after fault healed", func() bool {
		return st.status(ids[0]) == storage.StatusSent
	})
	if snap := e.Snapshot(); snap.Available != 1 {
		t.Fatalf("identity leaked: available = %d, want 1", snap.Available)
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	msgr := &fakeMessenger{}
	e := newTestEngine(t, fastConfig(), nil, msgr, 1)
	if _, err := e.EnqueueBatch(context.Background(), "", []string{"x"}); err == nil {
		t.Fatal("empty recipient must be rejected")
	}
	if _, err := e.EnqueueBatch(context.Background(), "111", nil); err == nil {
		t.Fatal("empty payload list must be rejected")
	}
}

func TestMemoryOnlyEngineWithoutStore(t *testing.T) {
	t.Parallel()
	msgr := &fakeMessenger{}
	e := newTestEngine(t, fastConfig(), nil, msgr, 1)
	clock := &fakeClock{t: time.Now()}
	e.SetNow(clock.Now)
	startEngine(t, e)

	if _, err := e.EnqueueBatch(context.Background(), "111", []string{"img"}); err != nil {
		t.Fatalf("EnqueueBatch error: %v", err)
	}
	// No window anywhere: the in-memory tracker drives an activation first.
	waitFor(t, "activation recorded", func() bool {
		st, err := e.WindowState(context.Background(), "111")
		return err == nil && st.Status != window.StatusInactive
	})
	clock.Advance(11 * time.Minute)
	waitFor(t, "payload sent", func() bool { return msgr.count("image") >= 2 })
}
