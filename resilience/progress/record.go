package progress

import "time"

// Stage labels where an operation is in its lifecycle. The constants below
// cover the standard lifecycle; Update accepts free-form non-terminal labels
// for domain-specific phases (for example "fetching" or "aggregating").
type Stage string

const (
	StageInitializing Stage = "initializing"
	StageProcessing   Stage = "processing"
	StageCompleted    Stage = "completed"
	StageError        Stage = "error"
	StageCancelled    Stage = "cancelled"
)

// Terminal reports whether the stage ends an operation's lifecycle. A record
// in a terminal stage never changes again.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError || s == StageCancelled
}

// Record is a snapshot of one tracked operation. All reads from the registry
// and all values handed to subscribers are deep copies; mutating a Record
// never affects the registry's state.
type Record struct {
	// ID is the operation id, caller-chosen or generated at Start.
	ID string

	// Percentage is completion in [0, 100]. It never decreases between Start
	// and the terminal transition.
	Percentage float64

	// Message is the human-readable status line.
	Message string

	// Stage is the current lifecycle label.
	Stage Stage

	// StartedAt and UpdatedAt are registry clock timestamps.
	StartedAt time.Time
	UpdatedAt time.Time

	// EstimatedRemaining is the projected time to completion. It is nil when
	// no estimate exists (at 0% without duration history, and after a
	// non-completed terminal stage the last computed value is cleared to
	// zero). Completion sets it to a zero duration.
	EstimatedRemaining *time.Duration

	// CancelAllowed reports whether Cancel may terminate this operation.
	CancelAllowed bool

	// Metadata is a free-form bag merged across Start and Update calls. The
	// "type" key, when present, groups the operation for duration history.
	Metadata map[string]any
}

// clone returns a deep copy safe to hand outside the registry lock.
func (r Record) clone() Record {
	out := r

	if r.EstimatedRemaining != nil {
		remaining := *r.EstimatedRemaining
		out.EstimatedRemaining = &remaining
	}

	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}

	return out
}

// operationType extracts the duration-history grouping key from metadata.
func (r Record) operationType() string {
	opType, _ := r.Metadata["type"].(string)

	return opType
}
