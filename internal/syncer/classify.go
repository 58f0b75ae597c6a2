package syncer

import (
	"context"
	"errors"
	"net/http"

	"github.com/kalnberzina/agrosync/internal/remote"
	"github.com/kalnberzina/agrosync/internal/resolver"
)

// failureClass buckets a handler error into the orchestrator's taxonomy.
type failureClass int

const (
	// failureTransient covers timeouts, 5xx responses, and connectivity
	// loss mid-call; retried with backoff up to the attempt budget.
	failureTransient failureClass = iota

	// failurePermanent covers server-side payload rejection (4xx); the
	// operation is marked failed and left for manual retry or discard.
	failurePermanent

	// failureAuth means the token is missing or invalid. The whole drain
	// cycle aborts; the operation stays queued untouched.
	failureAuth

	// failureUnresolved means a foreign key still points at a local
	// identifier with no server mapping; the operation is re-queued to the
	// end of the current drain pass.
	failureUnresolved
)

// classify maps a handler error to its failure class. The blocking
// dependency is returned alongside failureUnresolved.
func classify(err error) (failureClass, *resolver.UnresolvedError) {
	var unresolved *resolver.UnresolvedError
	if errors.As(err, &unresolved) {
		return failureUnresolved, unresolved
	}

	var re *remote.RemoteError
	if errors.As(err, &re) {
		switch {
		case re.Status == http.StatusUnauthorized || re.Status == http.StatusForbidden:
			return failureAuth, nil
		case re.Status >= 500 || re.Status == http.StatusTooManyRequests:
			return failureTransient, nil
		default:
			return failurePermanent, nil
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return failureTransient, nil
	}

	// Anything else is a network-level error.
	return failureTransient, nil
}
