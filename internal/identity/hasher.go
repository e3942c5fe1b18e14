// Package identity derives the short deterministic identifiers shared by
// user, profile and media records.
//
// An identifier is the name-based (version 5) UUID of the input string under
// a secret namespace, base64-encoded without padding and truncated. The same
// (namespace, input) pair always yields the same identifier, across processes
// and time; this is what lets a profile's media slots be pre-allocated long
// before any upload happens.
package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/vibeapp/mediavault/internal/common"
)

// DefaultLength is the identifier length used when callers pass length <= 0.
// Eight base64 characters carry 48 bits; callers needing stronger collision
// resistance pass a larger length instead of changing the algorithm.
const DefaultLength = 8

// Hasher produces deterministic identifiers under a process-wide namespace.
// The namespace is fetched from the provider once and cached for the process
// lifetime; a failed fetch is not cached and is retried on the next call.
type Hasher struct {
	provider NamespaceProvider

	mu     sync.Mutex
	ns     uuid.UUID
	loaded bool
}

func NewHasher(p NamespaceProvider) *Hasher {
	return &Hasher{provider: p}
}

// Derive maps input to its identifier. Fails with common.ErrInvalidInput for
// an empty input and common.ErrNamespaceUnavailable when the namespace secret
// cannot be fetched.
func (h *Hasher) Derive(ctx context.Context, input string, length int) (string, error) {
	if input == "" {
		return "", fmt.Errorf("%w: empty input", common.ErrInvalidInput)
	}
	if length <= 0 {
		length = DefaultLength
	}

	ns, err := h.namespace(ctx)
	if err != nil {
		return "", err
	}

	id := uuid.NewSHA1(ns, []byte(input))
	encoded := base64.RawURLEncoding.EncodeToString(id[:])
	if length > len(encoded) {
		length = len(encoded)
	}
	return encoded[:length], nil
}

func (h *Hasher) namespace(ctx context.Context) (uuid.UUID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loaded {
		return h.ns, nil
	}

	ns, err := h.provider.Namespace(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", common.ErrNamespaceUnavailable, err)
	}

	h.ns = ns
	h.loaded = true
	return h.ns, nil
}

// PlatformUserInput builds the hasher input for a platform user identity,
// e.g. PlatformUserInput("telegram", "123456789") -> "telegram:123456789".
func PlatformUserInput(platform, platformID string) string {
	return platform + ":" + platformID
}

// ProfileSlotInput builds the hasher input for the idx-th profile slot of a
// user. The set of these inputs over idx is the user's fixed profile-id
// address space.
func ProfileSlotInput(userID string, idx int) string {
	return userID + ":" + strconv.Itoa(idx)
}

// MediaSlotInput builds the hasher input for the idx-th media slot of a
// profile. The set of these inputs over idx is the profile's fixed media-id
// address space.
func MediaSlotInput(profileID string, idx int) string {
	return profileID + ":" + strconv.Itoa(idx)
}
