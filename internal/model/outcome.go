package model

import "time"

// State is the lifecycle position of one document within a batch.
type State string

const (
	StatePending          State = "PENDING"
	StateExtracted        State = "EXTRACTED"
	StateDuplicateSkipped State = "DUPLICATE_SKIPPED"
	StateFailed           State = "FAILED"
	StateAccepted         State = "ACCEPTED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateDuplicateSkipped, StateFailed, StateAccepted:
		return true
	}
	return false
}

// Outcome is the result of processing one document.
type Outcome struct {
	Index      int    `json:"index"`
	SourceName string `json:"source_name"`
	State      State  `json:"state"`
	Reason     string `json:"reason,omitempty"`
	Row        *Row   `json:"-"`
}

// Report summarizes a batch.
type Report struct {
	BatchID   string    `json:"batch_id"`
	Direction Direction `json:"direction"`
	StartedAt time.Time `json:"started_at"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Accepted returns the rows admitted to the ledger, in submission order.
func (r *Report) Accepted() []Row {
	var rows []Row
	for _, o := range r.Outcomes {
		if o.State == StateAccepted && o.Row != nil {
			rows = append(rows, *o.Row)
		}
	}
	return rows
}

// Skipped returns the outcomes rejected as duplicates.
func (r *Report) Skipped() []Outcome {
	return r.inState(StateDuplicateSkipped)
}

// Failed returns the outcomes that could not be processed.
func (r *Report) Failed() []Outcome {
	return r.inState(StateFailed)
}

// Flagged returns accepted rows that need manual review.
func (r *Report) Flagged() []Row {
	var rows []Row
	for _, row := range r.Accepted() {
		if row.Verdict.Flagged() {
			rows = append(rows, row)
		}
	}
	return rows
}

func (r *Report) inState(s State) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.State == s {
			out = append(out, o)
		}
	}
	return out
}
