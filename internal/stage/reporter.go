package stage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/knoguchi/ingestcore/internal/repository"
)

// Reporter is the handle an Executor uses to talk back to the Stage
// Machine while it runs: progress updates and checkpoint checks. It
// implements the "record_progress" and "checkpoint" operations of the
// Stage collaborator contract (spec §6); "enqueue" and
// "set_review_pending" are Machine-level operations instead, since they
// act before or after a single stage's run rather than during it.
type Reporter struct {
	m          *Machine
	documentID uuid.UUID
	stage      State
}

// Progress publishes a progress event for the running stage. pct is
// stage-local, 0..1.
func (r *Reporter) Progress(pct float64) {
	r.m.broker.publish(StageEvent{
		DocumentID: r.documentID,
		Stage:      r.stage,
		Status:     EventProgress,
		Progress:   pct,
	})
}

// Checkpoint reports the hash of the inputs the Executor is about to
// consume. If a prior successful run of this stage for this document
// recorded the same hash, Checkpoint returns skip=true: the Executor may
// return immediately with that hash, reusing its previous output rather
// than redoing the work (spec §4.8: "on resume the stage may be skipped
// if inputs match").
func (r *Reporter) Checkpoint(ctx context.Context, hash string) (skip bool, err error) {
	prev, err := r.m.stages.Latest(ctx, r.documentID, r.stage)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if prev != nil && prev.CompletedAt != nil && prev.Error == "" && prev.CheckpointHash == hash {
		return true, nil
	}
	return false, nil
}
