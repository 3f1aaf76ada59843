// Package rpc speaks JSON-RPC 2.0 to the download daemon over HTTP or WebSocket.
package rpc

import (
	"context"
	"encoding/json"
	"errors"

	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
	"github.com/veranemoloko/tui-downloader/internal/metrics"
)

// Transport issues one remote call and waits for its answer.
// Implementations never retry.
type Transport interface {
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// Batcher is implemented by transports that can send several calls in one round trip.
type Batcher interface {
	CallBatch(ctx context.Context, reqs []Request) []Result
}

// Notifier is implemented by transports that receive daemon push events.
type Notifier interface {
	Notifications() <-chan Notification
}

// Request is one entry of a batch.
type Request struct {
	Method string
	Params []any
}

// Result pairs a batch entry with its outcome.
type Result struct {
	Value json.RawMessage
	Err   error
}

// Notification is a daemon push event such as aria2.onDownloadComplete.
type Notification struct {
	Method string
	GID    string
}

// Batch sends reqs through t in a single round trip when t supports it and
// sequentially otherwise. Once a sequential call reports the daemon
// unreachable the remaining entries fail with the same error.
func Batch(ctx context.Context, t Transport, reqs []Request) []Result {
	if b, ok := t.(Batcher); ok {
		return b.CallBatch(ctx, reqs)
	}

	results := make([]Result, len(reqs))
	var fatal error
	for i, req := range reqs {
		if fatal != nil {
			results[i] = Result{Err: fatal}
			continue
		}
		v, err := t.Call(ctx, req.Method, req.Params...)
		results[i] = Result{Value: v, Err: err}
		if errors.Is(err, errpkg.ErrUnreachable) || ctx.Err() != nil {
			fatal = err
		}
	}
	return results
}

// FirstError returns the first failed entry's error.
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

func observe(method string, err error) {
	metrics.RPCCalls.WithLabelValues(method, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errpkg.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, errpkg.ErrProtocol):
		return "protocol"
	case errpkg.IsRemote(err):
		return "remote"
	default:
		return "error"
	}
}
