package agent

import "github.com/wingprofile/agent/internal/stacktrace"

type signalKind int

const (
	sigAddGlobal signalKind = iota
	sigRemoveGlobal
	sigAddThread
	sigRemoveThread
)

// Signal is a control-plane message: a tag mutation queued for the
// snapshot loop to apply. Signals sent while the agent is Ready (not
// running) simply sit in the channel buffer — nobody is draining it —
// and are applied as a batch the moment the loop starts on the next
// Start.
type Signal struct {
	kind     signalKind
	tag      stacktrace.Tag
	threadID int64
}
