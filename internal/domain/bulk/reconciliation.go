package bulk

// OutcomeKind is the decision taken for one external order
type OutcomeKind string

const (
	OutcomeCreated OutcomeKind = "created"
	OutcomeUpdated OutcomeKind = "updated"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// SkipReasonDuplicate is reported when an order already exists under the skip policy
const SkipReasonDuplicate = "duplicate"

// ReconciliationOutcome is the result of reconciling a single external order
type ReconciliationOutcome struct {
	Kind       OutcomeKind
	ExternalID string
	Reason     string
}

// Created builds a created outcome
func Created(externalID string) ReconciliationOutcome {
	return ReconciliationOutcome{Kind: OutcomeCreated, ExternalID: externalID}
}

// Updated builds an updated outcome
func Updated(externalID string) ReconciliationOutcome {
	return ReconciliationOutcome{Kind: OutcomeUpdated, ExternalID: externalID}
}

// Skipped builds a skipped outcome
func Skipped(externalID, reason string) ReconciliationOutcome {
	return ReconciliationOutcome{Kind: OutcomeSkipped, ExternalID: externalID, Reason: reason}
}

// Failed builds a failed outcome
func Failed(externalID, reason string) ReconciliationOutcome {
	return ReconciliationOutcome{Kind: OutcomeFailed, ExternalID: externalID, Reason: reason}
}

// CounterDelta is the per-batch increment of job counters
type CounterDelta struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Record folds one outcome into the delta
func (d *CounterDelta) Record(o ReconciliationOutcome) {
	switch o.Kind {
	case OutcomeCreated:
		d.Imported++
	case OutcomeUpdated:
		d.Updated++
	case OutcomeSkipped:
		d.Skipped++
	default:
		d.Failed++
	}
}

// Processed returns the number of orders covered by the delta
func (d CounterDelta) Processed() int {
	return d.Imported + d.Updated + d.Skipped + d.Failed
}

// IsValid reports whether every component is non-negative
func (d CounterDelta) IsValid() bool {
	return d.Imported >= 0 && d.Updated >= 0 && d.Skipped >= 0 && d.Failed >= 0
}
