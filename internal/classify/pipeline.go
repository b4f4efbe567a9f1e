package classify

import (
	"time"

	"quern/internal/metrics"
	"quern/pkg/types"
)

// Pipeline is the classifier+deduplicator pair every adapter's emit callback
// runs through before an entry reaches the ring. O(1) and non-blocking by
// design: handlers must never block here.
type Pipeline struct {
	Classifier   *Classifier
	Deduplicator *Deduplicator
}

// NewPipeline builds a pipeline from a rule set and dedup window.
func NewPipeline(rules []Rule, dedupWindow time.Duration) *Pipeline {
	return &Pipeline{
		Classifier:   NewClassifier(rules),
		Deduplicator: NewDeduplicator(dedupWindow),
	}
}

// Process classifies entry, assigns its fingerprint, and runs it through the
// deduplicator. It returns the entry to append and whether it should be
// appended at all (false only for suppressed duplicates).
func (p *Pipeline) Process(e *types.LogEntry) (*types.LogEntry, bool) {
	p.Classifier.Classify(e)
	e.Fingerprint = Fingerprint(e.Level, e.Process, e.Message)
	if p.Deduplicator == nil {
		return e, true
	}
	keep := p.Deduplicator.Process(e)
	if !keep {
		metrics.RecordDedupSuppressed(string(e.Source))
	}
	return e, keep
}
