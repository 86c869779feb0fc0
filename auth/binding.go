package auth

import (
	"errors"
	"sync"

	"github.com/kapbl/chatgate/models"
)

var ErrAlreadyBound = errors.New("connection identity already bound")

// Binding holds the identity of one connection. It moves from unbound to bound
// exactly once and is never re-verified afterwards.
type Binding struct {
	mu       sync.RWMutex
	identity models.Identity
}

func (b *Binding) Bind(identity models.Identity) error {
	if !identity.Authenticated() {
		return errors.New("cannot bind an anonymous identity")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.identity.Authenticated() {
		return ErrAlreadyBound
	}
	b.identity = identity
	return nil
}

// Identity returns the bound identity, or the zero value before binding.
func (b *Binding) Identity() (models.Identity, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.identity, b.identity.Authenticated()
}
