// Package stage implements the Stage Machine (spec §4.8): the DAG of
// processing stages a Document moves through, checkpointing,
// retry-with-backoff, and the two mandatory review checkpoints.
package stage

import "github.com/knoguchi/ingestcore/internal/repository"

// State is a node in the Stage Machine's DAG. It is the same concrete
// type as repository.ProcessingStage; the alias keeps this package's
// vocabulary self-contained while staying assignable to the persisted
// field.
type State = repository.ProcessingStage

// successors is the DAG's adjacency table: for each state, the set of
// states that may legally follow it. review:* states are pause points —
// they have a single successor, reached only via an external continue
// signal (Machine.Resume), never automatically.
var successors = map[State][]State{
	repository.StageQueued:              {repository.StageExtracting},
	repository.StageExtracting:          {repository.StageExtracted, repository.StageFailed},
	repository.StageExtracted:           {repository.StageReviewDocling},
	repository.StageReviewDocling:       {repository.StageCleaning},
	repository.StageCleaning:            {repository.StageCleaned, repository.StageFailed},
	repository.StageCleaned:             {repository.StageChunking},
	repository.StageChunking:            {repository.StageChunked, repository.StageFailed},
	repository.StageChunked:             {repository.StageReviewBeforeChunking},
	repository.StageReviewBeforeChunking: {repository.StageMatching},
	repository.StageMatching:            {repository.StageMatched, repository.StageFailed},
	repository.StageMatched:             {repository.StageEnriching},
	repository.StageEnriching:           {repository.StageEnriched, repository.StageFailed},
	repository.StageEnriched:            {repository.StageEmbedding},
	repository.StageEmbedding:           {repository.StageEmbedded, repository.StageFailed},
	repository.StageEmbedded:            {repository.StageCompleted},
	repository.StageCompleted:           {},
	repository.StageFailed:              {},
}

// reviewStages maps a review checkpoint state to the ReviewStage tag
// recorded on the Document while paused there.
var reviewStages = map[State]repository.ReviewStage{
	repository.StageReviewDocling:        repository.ReviewPostExtract,
	repository.StageReviewBeforeChunking: repository.ReviewBeforeChunking,
}

// init validates the DAG shape at package load time: every state named
// as a successor must itself have an entry in the table (no dangling
// nodes), and the table must be acyclic except for the terminal states'
// empty successor sets. A malformed table is a programming error, not a
// runtime condition, so it panics rather than returning an error.
func init() {
	for from, tos := range successors {
		for _, to := range tos {
			if _, ok := successors[to]; !ok {
				panic("stage: dangling successor " + string(to) + " from " + string(from))
			}
		}
	}
	if err := checkAcyclic(); err != nil {
		panic("stage: " + err.Error())
	}
}

// checkAcyclic runs a DFS from queued and fails if it revisits a state
// still on the current path (a cycle), or if completed is not
// reachable. Reachability of failed is not checked.
func checkAcyclic() error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[State]int, len(successors))
	var visit func(State) error
	visit = func(s State) error {
		color[s] = gray
		for _, next := range successors[s] {
			switch color[next] {
			case gray:
				return errCycle(s, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[s] = black
		return nil
	}
	if err := visit(repository.StageQueued); err != nil {
		return err
	}
	if color[repository.StageCompleted] != black {
		return errUnreachable(repository.StageCompleted)
	}
	return nil
}

func errCycle(from, to State) error {
	return &dagError{"cycle detected at " + string(from) + " -> " + string(to)}
}

func errUnreachable(s State) error {
	return &dagError{string(s) + " is not reachable from queued"}
}

type dagError struct{ msg string }

func (e *dagError) Error() string { return e.msg }

// CanTransition reports whether the DAG permits moving from `from`
// directly to `to`.
func CanTransition(from, to State) bool {
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state has no successors.
func IsTerminal(s State) bool {
	return len(successors[s]) == 0
}

// IsReview reports whether a state is a review checkpoint, and if so
// which ReviewStage tag it corresponds to.
func IsReview(s State) (repository.ReviewStage, bool) {
	tag, ok := reviewStages[s]
	return tag, ok
}

// Next returns the single non-failed successor of a running state — the
// state the machine advances to on success. Every state in the table has
// at most one non-failed successor (Failed is always a sibling edge on
// stages that do real work); terminal states return ok=false.
func Next(s State) (State, bool) {
	for _, to := range successors[s] {
		if to != repository.StageFailed {
			return to, true
		}
	}
	return "", false
}
