package stage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/ingestcore/internal/repository"
)

type fakeDocRepo struct {
	mu  sync.Mutex
	doc *repository.Document
}

func (f *fakeDocRepo) Create(context.Context, *repository.Document) error { return nil }

func (f *fakeDocRepo) GetByID(_ context.Context, id uuid.UUID) (*repository.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.doc
	return &cp, nil
}

func (f *fakeDocRepo) GetBySourceHash(context.Context, string, string) (*repository.Document, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeDocRepo) List(context.Context, string, repository.ProcessingStage, int, int) ([]*repository.Document, int, error) {
	return nil, 0, nil
}

func (f *fakeDocRepo) Update(_ context.Context, doc *repository.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.doc = &cp
	return nil
}

func (f *fakeDocRepo) Delete(context.Context, uuid.UUID) error { return nil }

func (f *fakeDocRepo) stage() repository.ProcessingStage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.ProcessingStage
}

type fakeStageRepo struct {
	mu      sync.Mutex
	latest  map[repository.ProcessingStage]*repository.StageRecord
	history []*repository.StageRecord
}

func newFakeStageRepo() *fakeStageRepo {
	return &fakeStageRepo{latest: make(map[repository.ProcessingStage]*repository.StageRecord)}
}

func (f *fakeStageRepo) Create(_ context.Context, rec *repository.StageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.history = append(f.history, &cp)
	return nil
}

func (f *fakeStageRepo) Update(_ context.Context, rec *repository.StageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.latest[rec.Stage] = &cp
	return nil
}

func (f *fakeStageRepo) Latest(_ context.Context, _ uuid.UUID, s repository.ProcessingStage) (*repository.StageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.latest[s]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStageRepo) History(context.Context, uuid.UUID) ([]*repository.StageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*repository.StageRecord(nil), f.history...), nil
}

func noopRegistry() map[State]Executor {
	noop := func(ctx context.Context, doc *repository.Document, rep *Reporter) (string, error) {
		return "h", nil
	}
	return map[State]Executor{
		repository.StageExtracting: noop,
		repository.StageCleaning:   noop,
		repository.StageChunking:   noop,
		repository.StageMatching:  noop,
		repository.StageEnriching: noop,
		repository.StageEmbedding: noop,
	}
}

func TestCanTransitionAndTerminal(t *testing.T) {
	if !CanTransition(repository.StageQueued, repository.StageExtracting) {
		t.Error("expected queued -> extracting to be legal")
	}
	if CanTransition(repository.StageQueued, repository.StageCompleted) {
		t.Error("did not expect queued -> completed to be legal directly")
	}
	if !IsTerminal(repository.StageCompleted) || !IsTerminal(repository.StageFailed) {
		t.Error("expected completed and failed to be terminal")
	}
	if IsTerminal(repository.StageQueued) {
		t.Error("did not expect queued to be terminal")
	}
}

func TestMachineRunsThroughBothReviewCheckpointsToCompletion(t *testing.T) {
	docID := uuid.New()
	docs := &fakeDocRepo{doc: &repository.Document{ID: docID, ProcessingStage: repository.StageQueued}}
	stages := newFakeStageRepo()

	m := New(docs, stages, noopRegistry(), Config{Backoff: BackoffConfig{Base: time.Millisecond, Max: time.Millisecond}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := m.Subscribe(ctx, docID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := m.Enqueue(ctx, docID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	reviewsSeen := 0
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case ev := <-events:
			if ev.Status == EventPaused {
				reviewsSeen++
				m.Resume(docID)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for completion; last stage=%s", docs.stage())
		case <-time.After(10 * time.Millisecond):
			if docs.stage() == repository.StageCompleted {
				break loop
			}
		}
	}
	if reviewsSeen != 2 {
		t.Errorf("expected 2 review pauses, saw %d", reviewsSeen)
	}
	if docs.stage() != repository.StageCompleted {
		t.Errorf("expected completed, got %s", docs.stage())
	}
}

func TestMachineTransitionsToFailedAfterRetriesExhausted(t *testing.T) {
	docID := uuid.New()
	docs := &fakeDocRepo{doc: &repository.Document{ID: docID, ProcessingStage: repository.StageQueued}}
	stages := newFakeStageRepo()

	boom := errors.New("boom")
	registry := map[State]Executor{
		repository.StageExtracting: func(ctx context.Context, doc *repository.Document, rep *Reporter) (string, error) {
			return "", boom
		},
	}

	m := New(docs, stages, registry, Config{
		MaxRetries: 1,
		Backoff:    BackoffConfig{Base: time.Millisecond, Max: time.Millisecond},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.Enqueue(ctx, docID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for docs.stage() != repository.StageFailed {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for failed; last stage=%s", docs.stage())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReporterCheckpointSkipsOnMatchingHash(t *testing.T) {
	docID := uuid.New()
	stages := newFakeStageRepo()
	completed := time.Now()
	stages.latest[repository.StageCleaning] = &repository.StageRecord{
		DocumentID: docID, Stage: repository.StageCleaning,
		CompletedAt: &completed, CheckpointHash: "abc",
	}

	m := &Machine{stages: stages}
	rep := &Reporter{m: m, documentID: docID, stage: repository.StageCleaning}

	skip, err := rep.Checkpoint(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if !skip {
		t.Error("expected skip=true for a matching checkpoint hash")
	}

	skip, err = rep.Checkpoint(context.Background(), "different")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if skip {
		t.Error("expected skip=false for a changed checkpoint hash")
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	cfg := BackoffConfig{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0}
	d1 := cfg.Delay(1)
	d2 := cfg.Delay(2)
	d5 := cfg.Delay(5)
	if d1 != 100*time.Millisecond {
		t.Errorf("expected first delay = base, got %v", d1)
	}
	if d2 <= d1 {
		t.Errorf("expected delay to grow: d1=%v d2=%v", d1, d2)
	}
	if d5 > cfg.Max {
		t.Errorf("expected delay capped at %v, got %v", cfg.Max, d5)
	}
}

func TestChecksumIsOrderIndependent(t *testing.T) {
	h1, err := Checksum("cleaning", map[string]any{"a": 1, "b": "x"})
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	h2, err := Checksum("cleaning", map[string]any{"b": "x", "a": 1})
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected order-independent checksum, got %s != %s", h1, h2)
	}
}
