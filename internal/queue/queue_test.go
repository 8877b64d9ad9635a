package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

// fakeRedis implements the commands surface in memory so queue semantics
// can be exercised without a server. Blocking moves return ErrEmpty
// immediately instead of waiting.
type fakeRedis struct {
	mu     sync.Mutex
	lists  map[string][]string
	hashes map[string]map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		lists:  make(map[string][]string),
		hashes: make(map[string]map[string]string),
	}
}

func (f *fakeRedis) Ping(context.Context) error { return nil }
func (f *fakeRedis) Close() error               { return nil }

func (f *fakeRedis) LPush(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append([]string{value}, f.lists[key]...)
	return nil
}

func (f *fakeRedis) BLMove(_ context.Context, source, destination, srcPos, dstPos string, _ time.Duration) (string, error) {
	return f.move(source, destination, srcPos, dstPos)
}

func (f *fakeRedis) LMove(_ context.Context, source, destination, srcPos, dstPos string) (string, error) {
	return f.move(source, destination, srcPos, dstPos)
}

func (f *fakeRedis) move(source, destination, srcPos, dstPos string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.lists[source]
	if len(src) == 0 {
		return "", ErrEmpty
	}
	var value string
	if srcPos == "LEFT" {
		value, f.lists[source] = src[0], src[1:]
	} else {
		value, f.lists[source] = src[len(src)-1], src[:len(src)-1]
	}
	if dstPos == "LEFT" {
		f.lists[destination] = append([]string{value}, f.lists[destination]...)
	} else {
		f.lists[destination] = append(f.lists[destination], value)
	}
	return value, nil
}

func (f *fakeRedis) LRem(_ context.Context, key string, _ int64, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	for i, v := range list {
		if v == value {
			f.lists[key] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeRedis) HSet(_ context.Context, key string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.hashes[key]
	if h == nil {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	for k, v := range fields {
		if s, ok := v.(string); ok {
			h[k] = s
		}
	}
	return nil
}

func (f *fakeRedis) HGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeRedis) listLen(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lists[key])
}

func newFakeClient() (*Client, *fakeRedis) {
	fake := newFakeRedis()
	return &Client{cmds: fake, log: logger.NewNop()}, fake
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	handler := func(ctx context.Context, args map[string]any) error { return nil }

	if err := r.Register("process_document", handler); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := r.Resolve("process_document"); !ok {
		t.Fatal("registered function must resolve")
	}
	if _, ok := r.Resolve("unknown"); ok {
		t.Fatal("unknown function must not resolve")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	handler := func(ctx context.Context, args map[string]any) error { return nil }
	if err := r.Register("f", handler); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("f", handler); err == nil {
		t.Fatal("duplicate registration must error")
	}
}

func TestRegistryRejectsInvalidInput(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", func(ctx context.Context, args map[string]any) error { return nil }); err == nil {
		t.Fatal("empty name must error")
	}
	if err := r.Register("f", nil); err == nil {
		t.Fatal("nil handler must error")
	}
}

func TestRegistryFunctionsSorted(t *testing.T) {
	r := NewRegistry()
	handler := func(ctx context.Context, args map[string]any) error { return nil }
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(name, handler); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	got := r.Functions()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("functions: want=%v got=%v", want, got)
		}
	}
}

func TestRecordFromHashParsesFields(t *testing.T) {
	enqueued := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	completed := enqueued.Add(time.Minute)

	record, err := recordFromHash("job-1", map[string]string{
		"function":     "process_document",
		"args":         `{"blob_id":"blob_abc123def456"}`,
		"status":       StatusCompleted,
		"enqueued_at":  enqueued.Format(time.RFC3339Nano),
		"completed_at": completed.Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatalf("recordFromHash: %v", err)
	}
	if record.JobID != "job-1" || record.Function != "process_document" {
		t.Fatalf("record: got=%+v", record)
	}
	if record.Args["blob_id"] != "blob_abc123def456" {
		t.Fatalf("args: got=%v", record.Args)
	}
	if !record.EnqueuedAt.Equal(enqueued) {
		t.Fatalf("enqueued_at: want=%v got=%v", enqueued, record.EnqueuedAt)
	}
	if record.CompletedAt == nil || !record.CompletedAt.Equal(completed) {
		t.Fatalf("completed_at: got=%v", record.CompletedAt)
	}
}

func TestRecordFromHashFailedJob(t *testing.T) {
	record, err := recordFromHash("job-2", map[string]string{
		"function": "ingest_session",
		"status":   StatusFailed,
		"error":    "session missing has no messages",
	})
	if err != nil {
		t.Fatalf("recordFromHash: %v", err)
	}
	if record.Status != StatusFailed || record.Error == "" {
		t.Fatalf("record: got=%+v", record)
	}
	if record.CompletedAt != nil {
		t.Fatalf("completed_at must be nil when absent: got=%v", record.CompletedAt)
	}
}

func TestRecordFromHashRejectsBadArgs(t *testing.T) {
	if _, err := recordFromHash("job-3", map[string]string{"args": "{not json"}); err == nil {
		t.Fatal("corrupt args must error")
	}
}

func TestEnqueueClaimIsFIFO(t *testing.T) {
	c, _ := newFakeClient()
	ctx := context.Background()

	first, err := c.Enqueue(ctx, "process_document", map[string]any{"blob_id": "blob_a"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := c.Enqueue(ctx, "process_document", map[string]any{"blob_id": "blob_b"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := c.claim(ctx, time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.JobID != first {
		t.Fatalf("claim order: want=%s got=%+v", first, job)
	}
	job, err = c.claim(ctx, time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.JobID != second {
		t.Fatalf("claim order: want=%s got=%+v", second, job)
	}
}

func TestClaimEmptyQueueReturnsNothing(t *testing.T) {
	c, _ := newFakeClient()
	job, err := c.claim(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job != nil {
		t.Fatalf("empty queue must yield nil job: got=%+v", job)
	}
}

func TestCrashedWorkerJobIsRequeued(t *testing.T) {
	c, fake := newFakeClient()
	ctx := context.Background()

	jobID, err := c.Enqueue(ctx, "ingest_session", map[string]any{"session_id": "s1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := c.claim(ctx, time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.JobID != jobID {
		t.Fatalf("claim: got=%+v", job)
	}
	if err := c.markProcessing(ctx, jobID); err != nil {
		t.Fatalf("markProcessing: %v", err)
	}

	// The worker dies here: the id is off the queue but never acked.
	if n := fake.listLen(processingKey); n != 1 {
		t.Fatalf("processing list: want=1 got=%d", n)
	}

	requeued, err := c.RequeueOrphans(ctx)
	if err != nil {
		t.Fatalf("RequeueOrphans: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("requeued: want=1 got=%d", requeued)
	}
	record, err := c.Status(ctx, jobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if record.Status != StatusQueued {
		t.Fatalf("orphan status: want=%s got=%s", StatusQueued, record.Status)
	}

	job, err = c.claim(ctx, time.Second)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if job == nil || job.JobID != jobID {
		t.Fatalf("reclaim: want=%s got=%+v", jobID, job)
	}
}

func TestAckedJobIsNotRedelivered(t *testing.T) {
	c, fake := newFakeClient()
	ctx := context.Background()

	jobID, err := c.Enqueue(ctx, "process_document", map[string]any{"blob_id": "blob_a"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := c.claim(ctx, time.Second); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := c.markDone(ctx, jobID, nil); err != nil {
		t.Fatalf("markDone: %v", err)
	}
	c.ack(ctx, jobID)

	if n := fake.listLen(processingKey); n != 0 {
		t.Fatalf("processing list after ack: want=0 got=%d", n)
	}
	requeued, err := c.RequeueOrphans(ctx)
	if err != nil {
		t.Fatalf("RequeueOrphans: %v", err)
	}
	if requeued != 0 {
		t.Fatalf("requeued: want=0 got=%d", requeued)
	}
	record, err := c.Status(ctx, jobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("status: want=%s got=%s", StatusCompleted, record.Status)
	}
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	w := &Worker{jobTimeout: time.Second}
	err := w.runHandler(context.Background(), func(ctx context.Context, args map[string]any) error {
		panic("boom")
	}, nil)
	if err == nil {
		t.Fatal("panic must surface as error")
	}
}
