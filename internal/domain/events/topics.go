package events

import "github.com/medgate/dispatcher/internal/domain/outcome"

// Topics carries the configured topic names the emitter routes over.
type Topics struct {
	Status        string
	IndexerLow    string
	IndexerMedium string
	IndexerHigh   string
	RetryUpdate   string
	RetryDelete   string
}

// priorityClasses are the document typologies whose intake volume justifies
// tiered indexing; everything else rides the medium topic.
var priorityClasses = map[outcome.DocumentClass]bool{
	outcome.ClassLabReport:        true,
	outcome.ClassDischargeSummary: true,
	outcome.ClassRadiologyReport:  true,
}

// IndexerTopic routes an indexer record by priority tier and document
// class. Classes outside the tiered set, and unknown priorities, land on
// the medium topic.
func (t Topics) IndexerTopic(priority outcome.Priority, class outcome.DocumentClass) string {
	if !priorityClasses[class] {
		return t.IndexerMedium
	}
	switch priority {
	case outcome.PriorityLow:
		return t.IndexerLow
	case outcome.PriorityHigh:
		return t.IndexerHigh
	default:
		return t.IndexerMedium
	}
}
