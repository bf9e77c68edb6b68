package stage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/ingestcore/internal/repository"
)

// Executor runs the work for one "running" state (extracting, cleaning,
// chunking, matching, enriching, embedding) against doc, reporting
// incremental progress through rep. It returns a checkpoint hash over
// whatever it consumed, so a later resume can detect whether its inputs
// changed.
type Executor func(ctx context.Context, doc *repository.Document, rep *Reporter) (checkpointHash string, err error)

// runningStates are the DAG nodes that have an associated Executor; all
// other non-terminal, non-review states are resting milestones the
// Machine advances through automatically.
var runningStates = map[State]bool{
	repository.StageExtracting: true,
	repository.StageCleaning:  true,
	repository.StageChunking:  true,
	repository.StageMatching:  true,
	repository.StageEnriching: true,
	repository.StageEmbedding: true,
}

// Config configures a Machine.
type Config struct {
	MaxRetries int
	Backoff    BackoffConfig
	Logger     *slog.Logger
}

// Machine runs the Stage Machine for a set of documents, one goroutine
// per document (spec §5: "single-threaded per document... separate
// documents proceed independently").
type Machine struct {
	docs     repository.DocumentRepository
	stages   repository.StageRepository
	registry map[State]Executor
	cfg      Config
	broker   *broker

	mu      sync.Mutex
	runners map[uuid.UUID]*docRunner
}

type docRunner struct {
	cmds   chan command
	cancel context.CancelFunc
}

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdCancel
)

// New constructs a Machine. registry supplies the Executor for each
// running state; a nil or missing entry for a running state the
// document reaches is treated as a fatal configuration error for that
// document (it transitions to failed rather than panicking the process).
func New(docs repository.DocumentRepository, stages repository.StageRepository, registry map[State]Executor, cfg Config) *Machine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Machine{
		docs:     docs,
		stages:   stages,
		registry: registry,
		cfg:      cfg,
		broker:   newBroker(),
		runners:  make(map[uuid.UUID]*docRunner),
	}
}

// Subscribe returns a channel of StageEvents for documentID (the Stage
// collaborator's event-publishing replacement for polling, spec §9).
func (m *Machine) Subscribe(ctx context.Context, documentID uuid.UUID) (<-chan StageEvent, error) {
	return m.broker.Subscribe(ctx, documentID)
}

// Enqueue starts (or resumes, if the document is already past queued)
// the Stage Machine for documentID in its own goroutine. It is a no-op
// if the document already has a runner.
func (m *Machine) Enqueue(ctx context.Context, documentID uuid.UUID) error {
	m.mu.Lock()
	if _, exists := m.runners[documentID]; exists {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &docRunner{cmds: make(chan command, 4), cancel: cancel}
	m.runners[documentID] = r
	m.mu.Unlock()

	go m.run(runCtx, documentID, r)
	return nil
}

// Pause requests that documentID's runner suspend after finishing its
// current atomic unit of work.
func (m *Machine) Pause(documentID uuid.UUID) {
	m.send(documentID, cmdPause)
}

// Resume un-pauses documentID's runner, or continues it past a review
// checkpoint if it is currently paused there.
func (m *Machine) Resume(documentID uuid.UUID) {
	m.send(documentID, cmdResume)
}

// Cancel aborts documentID's runner at its next suspension point.
// Completed stages are not rolled back.
func (m *Machine) Cancel(documentID uuid.UUID) {
	m.send(documentID, cmdCancel)
}

func (m *Machine) send(documentID uuid.UUID, cmd command) {
	m.mu.Lock()
	r, ok := m.runners[documentID]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case r.cmds <- cmd:
	default:
	}
}

func (m *Machine) forget(documentID uuid.UUID) {
	m.mu.Lock()
	delete(m.runners, documentID)
	m.mu.Unlock()
}

// run is the per-document loop: advance through the DAG one stage at a
// time, honoring pause/resume/cancel signals between stages and at
// review checkpoints.
func (m *Machine) run(ctx context.Context, documentID uuid.UUID, r *docRunner) {
	defer m.forget(documentID)

	doc, err := m.docs.GetByID(ctx, documentID)
	if err != nil {
		m.cfg.Logger.Error("stage machine: load document failed", "document_id", documentID, "error", err)
		return
	}

	for {
		if m.awaitCommandOrCancel(ctx, r, documentID, false) {
			return
		}

		current := doc.ProcessingStage
		if IsTerminal(current) {
			return
		}

		if reviewTag, ok := IsReview(current); ok {
			doc.ReviewStage = reviewTag
			_ = m.docs.Update(ctx, doc)
			m.broker.publish(StageEvent{DocumentID: documentID, Stage: current, Status: EventPaused})
			if m.awaitCommandOrCancel(ctx, r, documentID, true) {
				return
			}
			doc.ReviewStage = repository.ReviewNone
			next, _ := Next(current)
			doc.ProcessingStage = next
			_ = m.docs.Update(ctx, doc)
			m.broker.publish(StageEvent{DocumentID: documentID, Stage: next, Status: EventResumed})
			continue
		}

		if runningStates[current] {
			if err := m.runStage(ctx, doc, current); err != nil {
				doc.ProcessingStage = repository.StageFailed
				_ = m.docs.Update(ctx, doc)
				m.broker.publish(StageEvent{DocumentID: documentID, Stage: current, Status: EventFailed, Error: err.Error()})
				return
			}
			next, _ := Next(current)
			doc.ProcessingStage = next
			_ = m.docs.Update(ctx, doc)
			continue
		}

		// Resting milestone state: advance automatically, no Executor.
		next, ok := Next(current)
		if !ok {
			return
		}
		doc.ProcessingStage = next
		_ = m.docs.Update(ctx, doc)
	}
}

// awaitCommandOrCancel checks for a pending pause/cancel before the
// machine starts its next unit of work, per spec §4.8: "the machine
// finishes the current atomic unit" before honoring a pause. mustWait
// forces a block regardless of pending commands — used at review
// checkpoints, which always suspend until an external continue signal.
// It returns true if the caller should stop running this document.
func (m *Machine) awaitCommandOrCancel(ctx context.Context, r *docRunner, documentID uuid.UUID, mustWait bool) bool {
	paused := mustWait
	if !paused {
		select {
		case cmd := <-r.cmds:
			switch cmd {
			case cmdCancel:
				return true
			case cmdPause:
				paused = true
			case cmdResume:
				// Resume with nothing pending: already running, ignore.
			}
		default:
		}
	}
	if !paused {
		return false
	}

	for {
		select {
		case <-ctx.Done():
			return true
		case cmd := <-r.cmds:
			switch cmd {
			case cmdCancel:
				return true
			case cmdResume:
				return false
			case cmdPause:
				// Already paused; stay blocked.
			}
		}
	}
}

// runStage executes the registered Executor for a running state, with
// checkpoint-skip-on-resume and retry-with-backoff on failure.
func (m *Machine) runStage(ctx context.Context, doc *repository.Document, s State) error {
	exec, ok := m.registry[s]
	if !ok {
		return &stageConfigError{Stage: s}
	}

	attempt := 0
	for {
		attempt++
		rec := &repository.StageRecord{
			DocumentID: doc.ID,
			Stage:      s,
			Attempt:    attempt,
			StartedAt:  timeNow(),
		}
		_ = m.stages.Create(ctx, rec)

		m.broker.publish(StageEvent{DocumentID: doc.ID, Stage: s, Status: EventStarted})
		rep := &Reporter{m: m, documentID: doc.ID, stage: s}

		hash, err := exec(ctx, doc, rep)
		completed := timeNow()
		rec.CompletedAt = &completed
		rec.CheckpointHash = hash

		if err == nil {
			rec.RetryCount = attempt - 1
			_ = m.stages.Update(ctx, rec)
			m.broker.publish(StageEvent{DocumentID: doc.ID, Stage: s, Status: EventDone, Progress: 1})
			return nil
		}

		rec.Error = err.Error()
		rec.RetryCount = attempt - 1
		_ = m.stages.Update(ctx, rec)

		if ctx.Err() != nil || attempt > m.cfg.MaxRetries {
			return err
		}

		m.cfg.Logger.Warn("stage failed, retrying",
			"document_id", doc.ID, "stage", s, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.Backoff.Delay(attempt)):
		}
	}
}

var timeNow = time.Now

type stageConfigError struct{ Stage State }

func (e *stageConfigError) Error() string {
	return "no executor registered for running state " + string(e.Stage)
}
