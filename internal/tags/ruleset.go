// Package tags implements the overlay rules that fold global and per-thread
// labels onto a captured stack trace before it is aggregated.
package tags

import (
	"sync"

	"github.com/wingprofile/agent/internal/stacktrace"
)

// Rule is a tagged variant: either a GlobalTag or a ThreadTag scoped to a
// specific thread id.
type Rule struct {
	Global   bool
	ThreadID int64
	Tag      stacktrace.Tag
}

// GlobalTag constructs a Rule that applies to every sample regardless of
// thread.
func GlobalTag(tag stacktrace.Tag) Rule {
	return Rule{Global: true, Tag: tag}
}

// ThreadTag constructs a Rule that applies only to samples captured from
// threadID.
func ThreadTag(threadID int64, tag stacktrace.Tag) Rule {
	return Rule{ThreadID: threadID, Tag: tag}
}

// Ruleset is an internally synchronized, unordered set of Rules. Add and
// Remove are both idempotent: adding a duplicate rule is a no-op and
// removing an absent rule succeeds silently.
type Ruleset struct {
	mu    sync.RWMutex
	rules map[Rule]struct{}
}

// New returns an empty ruleset.
func New() *Ruleset {
	return &Ruleset{rules: make(map[Rule]struct{})}
}

// Add inserts rule into the set. A duplicate add has no observable effect.
func (r *Ruleset) Add(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule] = struct{}{}
}

// Remove deletes rule from the set if present. Removing an absent rule is
// a silent no-op.
func (r *Ruleset) Remove(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, rule)
}

// Rules returns a snapshot of the current rule set.
func (r *Ruleset) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.rules))
	for rule := range r.rules {
		out = append(out, rule)
	}
	return out
}

// Apply folds the ruleset over trace, producing a copy whose Metadata
// includes every GlobalTag plus every ThreadTag whose thread id matches
// the trace's thread id. Traces carrying no matching rules get empty
// Metadata, not metadata synthesized from intrinsic attributes — callers
// that want pid/thread labels add them as explicit rules.
func (r *Ruleset) Apply(trace stacktrace.Trace) stacktrace.Trace {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tagList := make([]stacktrace.Tag, 0, len(r.rules))
	for rule := range r.rules {
		if rule.Global || (trace.HasThread && rule.ThreadID == trace.ThreadID) {
			tagList = append(tagList, rule.Tag)
		}
	}
	return trace.WithMetadata(stacktrace.NewMetadata(tagList...))
}

