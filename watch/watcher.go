// Package watch pushes change notifications to JSON-RPC subscribers.
package watch

import (
	"context"

	"github.com/sourcegraph/jsonrpc2"
)

// Watcher is the lifecycle shared by all watchers. Subscribe is left out
// because each watcher returns a different initial snapshot.
type Watcher interface {
	Start() error
	Stop()
}

// Notifier is the part of *jsonrpc2.Conn watchers use.
type Notifier interface {
	Notify(ctx context.Context, method string, params any, opts ...jsonrpc2.CallOption) error
}

var (
	_ Watcher  = (*MeetingListWatcher)(nil)
	_ Watcher  = (*SlotWatcher)(nil)
	_ Notifier = (*jsonrpc2.Conn)(nil)
)
