package aggregator

import (
	"iter"

	"github.com/oicur0t/logdedup/pkg/models"
)

// Stats describes what an Aggregator has seen
type Stats struct {
	Lines      int
	Matched    int
	Signatures int
}

// Aggregator groups the timestamps of records from one source address by
// request signature. Timestamps keep input order within a group.
type Aggregator struct {
	target string
	groups map[models.Signature][]string
	order  []models.Signature // first-seen order of signatures
	lines  int
}

// New creates an Aggregator for records whose remote_addr equals target
func New(target string) *Aggregator {
	return &Aggregator{
		target: target,
		groups: make(map[models.Signature][]string),
	}
}

// Add records rec if it comes from the target address and reports whether
// it did
func (a *Aggregator) Add(rec models.Record) bool {
	a.lines++
	if rec.RemoteAddr != a.target {
		return false
	}

	sig := rec.Signature()
	group, exists := a.groups[sig]
	if !exists {
		a.order = append(a.order, sig)
	}
	a.groups[sig] = append(group, rec.TimeISO8601)
	return true
}

// Consume adds every record of the sequence. On the first error all
// accumulated state is dropped and the error is returned.
func (a *Aggregator) Consume(records iter.Seq2[models.Record, error]) error {
	for rec, err := range records {
		if err != nil {
			a.reset()
			return err
		}
		a.Add(rec)
	}
	return nil
}

// Summaries returns one summary per group holding at least minCount timestamps,
// in the order the signatures were first seen
func (a *Aggregator) Summaries(minCount int) []models.Summary {
	summaries := make([]models.Summary, 0, len(a.order))
	for _, sig := range a.order {
		group := a.groups[sig]
		if len(group) < minCount {
			continue
		}
		summaries = append(summaries, models.Summary{
			Signature: sig,
			Count:     len(group),
			Earliest:  group[0],
			Latest:    group[len(group)-1],
		})
	}
	return summaries
}

// Stats returns counters for logging
func (a *Aggregator) Stats() Stats {
	matched := 0
	for _, group := range a.groups {
		matched += len(group)
	}
	return Stats{
		Lines:      a.lines,
		Matched:    matched,
		Signatures: len(a.groups),
	}
}

func (a *Aggregator) reset() {
	a.groups = make(map[models.Signature][]string)
	a.order = nil
	a.lines = 0
}
