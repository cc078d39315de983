// Package upload implements the background session uploader: it buffers
// encoded snapshots and ships each one's reports to the ingestion
// endpoint as a POST per report.
package upload

import (
	"github.com/wingprofile/agent/internal/encode"
)

// Session is one wall-clock window's worth of encoded reports. Invariant:
// Until - From == the agent's configured cycle, except for the terminal
// session emitted on stop, whose Until is rounded up to the next
// boundary from the stop instant.
type Session struct {
	From    int64
	Until   int64
	Reports []encode.Encoded
}

type signalKind int

const (
	signalSession signalKind = iota
	signalKill
)

// Signal is the message type the uploader's channel carries.
type Signal struct {
	kind    signalKind
	session Session
}

// SessionSignal wraps a session for upload.
func SessionSignal(s Session) Signal { return Signal{kind: signalSession, session: s} }

// Kill requests that the uploader drain its queue and exit.
func Kill() Signal { return Signal{kind: signalKill} }
