package orchestrator

import (
	"context"
	"sync"

	"github.com/flockml/flock/pkg/db/models"
	"github.com/flockml/flock/pkg/ferr"
)

// TokenCache holds the last-known-valid token per client id. It is an
// injected capability rather than a package singleton so tests can hand
// each orchestrator a fresh cache and concurrent-job tests can choose to
// share one. Entries are advisory: staleness is detected by a failed
// connectivity probe, never by inspecting expiry.
type TokenCache struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[string]string)}
}

func (tc *TokenCache) get(clientID string) (string, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tok, ok := tc.tokens[clientID]
	return tok, ok
}

func (tc *TokenCache) set(clientID, token string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tokens[clientID] = token
}

// clientToken returns a usable token for the client, probing the cached
// one first and lazily re-authenticating when the probe fails. Concurrent
// jobs may race on an entry; a stale winner simply fails its next probe
// and is replaced.
func (o *Orchestrator) clientToken(ctx context.Context, ci models.ClientInfo) (string, error) {
	if tok, ok := o.cache.get(ci.ID); ok {
		if o.clients.probe(ctx, ci.ServiceAddress, tok) {
			return tok, nil
		}
	}

	tok, err := o.clients.authenticate(ctx, ci)
	if err != nil {
		return "", ferr.Newf(ferr.CodeClientUnreachable, "client %s unreachable: %v", ci.ID, err)
	}
	o.cache.set(ci.ID, tok)
	return tok, nil
}
