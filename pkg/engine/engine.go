// Package engine enforces the conversation and message domain rules:
// membership, append ordering, the sent/delivered/read/failed status
// machine, read receipts and unread accounting. All multi-key mutations
// commit through a single store batch under the conversation lock.
package engine

import (
	"converse/pkg/directory"
)

// Notifier receives fan-out orders for freshly appended messages. The
// call must not block; delivery outcome never affects the send.
type Notifier interface {
	Notify(conversationID, messageID string, recipients []string)
}

// NopNotifier discards notifications. Used when no delivery channel is
// configured and in tests.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string, []string) {}

// Engine coordinates conversation and message operations on top of the
// store package.
type Engine struct {
	dir      directory.Directory
	notifier Notifier
	locks    *stripedLocks
}

// New returns an engine using dir for display resolution and notifier
// for delivery fan-out. Either may be nil.
func New(dir directory.Directory, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{dir: dir, notifier: notifier, locks: newStripedLocks(64)}
}

// Directory exposes the participant directory for the query layer.
func (e *Engine) Directory() directory.Directory { return e.dir }
