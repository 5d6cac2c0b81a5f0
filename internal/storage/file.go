package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "wabot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of jobs + windows)
//   - <prefix>.journal.jsonl (append-only journal since the snapshot)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	jobs    map[string]Job
	windows map[string]int64 // unix milli
	nextSeq int64

	writes int
}

type fileSnapshot struct {
	Jobs    map[string]Job   `json:"jobs"`
	Windows map[string]int64 `json:"windows"`
	NextSeq int64            `json:"next_seq"`
}

// journalRecord is one replayable mutation. Exactly one of Job / Status /
// Window is set, keyed by Op.
type journalRecord struct {
	Op string `json:"op"` // "job" | "status" | "window"

	Job *Job `json:"job,omitempty"`

	ID       string `json:"id,omitempty"`
	Status   Status `json:"status,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Sender   string `json:"sender,omitempty"`
	At       int64  `json:"at,omitempty"` // unix milli

	Recipient string `json:"recipient,omitempty"`
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		jobs:         map[string]Job{},
		windows:      map[string]int64{},
		nextSeq:      1,
	}
	_ = s.loadSnapshot(snapPath)
	_ = s.replayJournal(journalPath)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journalFile = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) CreateJobs(ctx context.Context, jobs []Job) ([]Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, errors.New("journal closed")
	}
	now := time.Now()
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		j.Seq = s.nextSeq
		s.nextSeq++
		if j.Status == "" {
			j.Status = StatusPending
		}
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		j.UpdatedAt = now
		s.jobs[j.ID] = j
		jc := j
		if err := s.appendLocked(journalRecord{Op: "job", Job: &jc}); err != nil {
			return out, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *fileStore) UpdateJobStatus(ctx context.Context, id string, status Status, attempts int, sender string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	j, ok := s.jobs[id]
	if !ok {
		return errors.New("unknown job: " + id)
	}
	now := time.Now()
	j.Status = status
	j.Attempts = attempts
	if sender != "" {
		j.Sender = sender
	}
	j.UpdatedAt = now
	s.jobs[id] = j
	return s.appendLocked(journalRecord{
		Op: "status", ID: id, Status: status, Attempts: attempts, Sender: sender, At: now.UnixMilli(),
	})
}

func (s *fileStore) PendingJobs(ctx context.Context) ([]Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.Status == StatusPending || j.Status == StatusProcessing || j.Status == StatusRetry {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
	return out, nil
}

func (s *fileStore) CancelPending(ctx context.Context, includeProcessing bool) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return 0, errors.New("journal closed")
	}
	now := time.Now()
	n := 0
	for id, j := range s.jobs {
		switch j.Status {
		case StatusPending, StatusRetry:
		case StatusProcessing:
			if !includeProcessing {
				continue
			}
		default:
			continue
		}
		j.Status = StatusCancelled
		j.UpdatedAt = now
		s.jobs[id] = j
		if err := s.appendLocked(journalRecord{Op: "status", ID: id, Status: StatusCancelled, Attempts: j.Attempts, At: now.UnixMilli()}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *fileStore) PruneJobs(ctx context.Context, olderThan time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(olderThan) {
			delete(s.jobs, id)
			n++
		}
	}
	if n > 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("compact after prune failed", logx.Err(err))
		}
	}
	return n, nil
}

func (s *fileStore) UpsertWindow(ctx context.Context, recipient string, at time.Time) error {
	_ = ctx
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	s.windows[recipient] = at.UnixMilli()
	return s.appendLocked(journalRecord{Op: "window", Recipient: recipient, At: at.UnixMilli()})
}

func (s *fileStore) GetWindow(ctx context.Context, recipient string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.windows[strings.TrimSpace(recipient)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{Jobs: s.jobs, Windows: s.windows, NextSeq: s.nextSeq}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	if snap.Jobs != nil {
		s.jobs = snap.Jobs
	}
	if snap.Windows != nil {
		s.windows = snap.Windows
	}
	if snap.NextSeq > s.nextSeq {
		s.nextSeq = snap.NextSeq
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case "job":
			if r.Job == nil || r.Job.ID == "" {
				continue
			}
			s.jobs[r.Job.ID] = *r.Job
			if r.Job.Seq >= s.nextSeq {
				s.nextSeq = r.Job.Seq + 1
			}
		case "status":
			j, ok := s.jobs[r.ID]
			if !ok {
				continue
			}
			j.Status = r.Status
			j.Attempts = r.Attempts
			if r.Sender != "" {
				j.Sender = r.Sender
			}
			j.UpdatedAt = time.UnixMilli(r.At)
			s.jobs[r.ID] = j
		case "window":
			if r.Recipient == "" {
				continue
			}
			s.windows[r.Recipient] = r.At
		}
	}
	return sc.Err()
}
