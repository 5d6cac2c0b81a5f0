package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "wabot/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "wabot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	return st
}

func TestDisabledDriver(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: ""}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled storage should be (nil, nil), got (%v, %v)", st, err)
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must error")
	}
}

func TestCreateAndRehydrate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestStore(t, dir)
	jobs, err := st.CreateJobs(ctx, []Job{
		{ID: "a", Recipient: "111", PayloadRef: "img-a.jpeg"},
		{ID: "b", Recipient: "111", PayloadRef: "img-b.jpeg"},
		{ID: "c", Recipient: "222", PayloadRef: "img-c.jpeg"},
	})
	if err != nil {
		t.Fatalf("CreateJobs error: %v", err)
	}
	if len(jobs) != 3 || jobs[0].Seq >= jobs[1].Seq || jobs[1].Seq >= jobs[2].Seq {
		t.Fatalf("sequence numbers not increasing: %+v", jobs)
	}
	if err := st.UpdateJobStatus(ctx, "a", StatusSent, 1, "ph-0"); err != nil {
		t.Fatalf("UpdateJobStatus error: %v", err)
	}
	if err := st.UpdateJobStatus(ctx, "b", StatusProcessing, 1, "ph-1"); err != nil {
		t.Fatalf("UpdateJobStatus error: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// Reopen: the sent job must stay terminal; b and c come back in order.
	st2 := openTestStore(t, dir)
	defer st2.Close()
	pend, err := st2.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("PendingJobs error: %v", err)
	}
	if len(pend) != 2 || pend[0].ID != "b" || pend[1].ID != "c" {
		t.Fatalf("unexpected rehydration: %+v", pend)
	}
	if pend[0].Status != StatusProcessing || pend[0].Sender != "ph-1" {
		t.Fatalf("status update lost across restart: %+v", pend[0])
	}
}

func TestCancelPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	defer st.Close()

	_, err := st.CreateJobs(ctx, []Job{
		{ID: "a", Recipient: "1", PayloadRef: "x"},
		{ID: "b", Recipient: "1", PayloadRef: "y"},
		{ID: "c", Recipient: "1", PayloadRef: "z"},
	})
	if err != nil {
		t.Fatalf("CreateJobs error: %v", err)
	}
	_ = st.UpdateJobStatus(ctx, "a", StatusSent, 1, "")
	_ = st.UpdateJobStatus(ctx, "c", StatusProcessing, 0, "ph-1")

	// Narrow cancel spares the in-flight job.
	n, err := st.CancelPending(ctx, false)
	if err != nil {
		t.Fatalf("CancelPending error: %v", err)
	}
	if n != 1 {
		t.Fatalf("cancelled %d jobs, want 1", n)
	}
	pend, _ := st.PendingJobs(ctx)
	if len(pend) != 1 || pend[0].ID != "c" {
		t.Fatalf("in-flight job lost by narrow cancel: %+v", pend)
	}

	// Broad cancel takes it too.
	if n, err = st.CancelPending(ctx, true); err != nil || n != 1 {
		t.Fatalf("broad cancel = (%d, %v), want (1, nil)", n, err)
	}
	if pend, _ = st.PendingJobs(ctx); len(pend) != 0 {
		t.Fatalf("queue not empty after broad cancel: %+v", pend)
	}
}

func TestPruneJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	defer st.Close()

	_, _ = st.CreateJobs(ctx, []Job{
		{ID: "old", Recipient: "1", PayloadRef: "x"},
		{ID: "live", Recipient: "1", PayloadRef: "y"},
	})
	_ = st.UpdateJobStatus(ctx, "old", StatusSent, 1, "")

	// Cutoff in the future prunes the terminal job but never the live one.
	n, err := st.PruneJobs(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneJobs error: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	pend, _ := st.PendingJobs(ctx)
	if len(pend) != 1 || pend[0].ID != "live" {
		t.Fatalf("live job lost: %+v", pend)
	}
}

func TestWindowRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	st := openTestStore(t, dir)

	if _, ok, _ := st.GetWindow(ctx, "111"); ok {
		t.Fatal("GetWindow should miss before upsert")
	}
	at := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	if err := st.UpsertWindow(ctx, "111", at); err != nil {
		t.Fatalf("UpsertWindow error: %v", err)
	}
	// Upsert is idempotent per recipient: the newest timestamp wins.
	at2 := at.Add(30 * time.Minute)
	if err := st.UpsertWindow(ctx, "111", at2); err != nil {
		t.Fatalf("UpsertWindow error: %v", err)
	}
	got, ok, err := st.GetWindow(ctx, "111")
	if err != nil || !ok {
		t.Fatalf("GetWindow = (%v, %v, %v)", got, ok, err)
	}
	if !got.Equal(at2) {
		t.Fatalf("GetWindow = %v, want %v", got, at2)
	}
	_ = st.Close()

	// Survives restart.
	st2 := openTestStore(t, dir)
	defer st2.Close()
	got, ok, _ = st2.GetWindow(ctx, "111")
	if !ok || !got.Equal(at2) {
		t.Fatalf("window lost across restart: %v %v", got, ok)
	}
}
