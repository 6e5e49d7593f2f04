// Package crypto implements the key manager (spec §4.4) and crypto client
// façade (spec §4.5) every encrypted artifact in this platform is produced
// and consumed through: JWKS signing keys, cache artifacts, and refresh
// token envelopes all route through here rather than touching raw key
// material themselves.
package crypto

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/domain"
)

// KeyManager tracks the lifecycle of every key version for every logical
// key name in a namespace, enforcing the pending-activation → active →
// deprecated → pending-destruction → destroyed state machine (spec §3,
// §4.4). Exactly one version per logical name is active at a time.
type KeyManager struct {
	namespace      string
	rotationWindow time.Duration

	mu                  sync.RWMutex
	records             map[string]*keyRecord // KeyID.String() -> record
	activeByLogicalName map[string]domain.KeyID

	// dek/dekVersion/dekCachedAt back GetFallbackDEK/IsDEKCacheValid: the
	// last data-encryption-key unwrapped through the crypto client, kept
	// around so cache operations don't need a remote unwrap call every
	// time (spec §4.4).
	dek         []byte
	dekVersion  int
	dekCachedAt time.Time
}

type keyRecord struct {
	metadata     domain.KeyMetadata
	deprecatedAt time.Time
}

// NewKeyManager constructs a KeyManager for namespace, deprecating and
// destroying old key versions after rotationWindow has elapsed.
func NewKeyManager(namespace string, rotationWindow time.Duration) *KeyManager {
	return &KeyManager{
		namespace:           namespace,
		rotationWindow:      rotationWindow,
		records:             make(map[string]*keyRecord),
		activeByLogicalName: make(map[string]domain.KeyID),
	}
}

// Initialize establishes the active key for logicalName at process start
// (spec §4.4: "initialize(crypto_client, correlation_id)"). It asks client
// for the well-known key's current metadata and adopts it verbatim; only
// when the crypto client reports no such key yet does it mint a fresh one.
// correlationID is attached to any error so a failed bootstrap can be
// traced back to the startup attempt that produced it.
func (m *KeyManager) Initialize(ctx context.Context, client *Client, logicalName, correlationID string) (domain.KeyID, error) {
	wellKnown := client.WellKnownKeyID(logicalName)
	meta, err := client.GetKeyMetadata(ctx, wellKnown)
	if err == nil {
		m.adopt(logicalName, meta)
		return meta.ID, nil
	}
	if !apperrors.Is(err, apperrors.KindKeyNotFound) {
		return domain.KeyID{}, apperrors.WithCorrelationID(
			apperrors.Wrap(apperrors.KindKeyInvalidState, fmt.Sprintf("key manager initialize failed for %s", logicalName), err),
			correlationID)
	}
	id, _, err := client.GenerateKey(ctx, logicalName)
	if err != nil {
		return domain.KeyID{}, err
	}
	m.adopt(logicalName, domain.KeyMetadata{ID: id, State: domain.KeyStateActive})
	return id, nil
}

func (m *KeyManager) adopt(logicalName string, meta domain.KeyMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[meta.ID.String()] = &keyRecord{metadata: meta}
	if meta.State == domain.KeyStateActive {
		m.activeByLogicalName[logicalName] = meta.ID
	}
}

// Activate mints version 1 of logicalName as the active key. Calling
// Activate again for a logical name that already has an active key is a
// no-op returning the existing KeyID; use Rotate to mint a new version.
func (m *KeyManager) Activate(logicalName string) domain.KeyID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.activeByLogicalName[logicalName]; ok {
		return id
	}

	id := domain.KeyID{Namespace: m.namespace, ID: logicalName, Version: 1}
	m.records[id.String()] = &keyRecord{metadata: domain.KeyMetadata{ID: id, State: domain.KeyStateActive}}
	m.activeByLogicalName[logicalName] = id
	return id
}

// Rotate mints the next version of logicalName, making it active and
// demoting the previously active version to deprecated. It returns the new
// KeyID. Rotate activates logicalName first if it has no active key yet.
func (m *KeyManager) Rotate(logicalName string) domain.KeyID {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, hadPrev := m.activeByLogicalName[logicalName]
	nextVersion := 1
	if hadPrev {
		nextVersion = prev.Version + 1
	}

	next := domain.KeyID{Namespace: m.namespace, ID: logicalName, Version: nextVersion}
	m.records[next.String()] = &keyRecord{metadata: domain.KeyMetadata{ID: next, State: domain.KeyStateActive}}
	m.activeByLogicalName[logicalName] = next

	if hadPrev {
		if rec, ok := m.records[prev.String()]; ok {
			rec.metadata.State = domain.KeyStateDeprecated
			rec.deprecatedAt = time.Now()
		}
	}
	return next
}

// Active returns the currently active KeyID for logicalName.
func (m *KeyManager) Active(logicalName string) (domain.KeyID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.activeByLogicalName[logicalName]
	return id, ok
}

// Metadata returns the lifecycle metadata for id.
func (m *KeyManager) Metadata(id domain.KeyID) (domain.KeyMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id.String()]
	if !ok {
		return domain.KeyMetadata{}, false
	}
	return rec.metadata, true
}

// IsValidKey reports whether id is usable at all: either the current
// active key for its logical name or a previously issued, not-yet-destroyed
// version this manager still tracks (spec §4.4: id == active ∨ id ∈
// previous).
func (m *KeyManager) IsValidKey(id domain.KeyID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id.String()]
	if !ok {
		return false
	}
	return rec.metadata.State != domain.KeyStateDestroyed
}

// CacheDEK records the data-encryption-key material currently in use and
// its version, refreshing the cache timestamp IsDEKCacheValid checks
// against (spec §4.4).
func (m *KeyManager) CacheDEK(dek []byte, version int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dek = append([]byte(nil), dek...)
	m.dekVersion = version
	m.dekCachedAt = time.Now()
}

// GetFallbackDEK returns the cached DEK and its version, if anything has
// been cached yet.
func (m *KeyManager) GetFallbackDEK() ([]byte, int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dek == nil {
		return nil, 0, false
	}
	return append([]byte(nil), m.dek...), m.dekVersion, true
}

// IsDEKCacheValid reports whether the cached DEK was stored within maxAge.
func (m *KeyManager) IsDEKCacheValid(maxAge time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dek == nil {
		return false
	}
	return time.Since(m.dekCachedAt) < maxAge
}

// Sweep advances every deprecated key whose deprecation age has reached
// rotationWindow into pending-destruction, and every key already in
// pending-destruction for another rotationWindow into destroyed. Callers
// run this periodically (spec §4.4: keys are destroyed a rotation window
// after they stop being used to verify, never immediately).
func (m *KeyManager) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		switch rec.metadata.State {
		case domain.KeyStateDeprecated:
			if now.Sub(rec.deprecatedAt) >= m.rotationWindow {
				rec.metadata.State = domain.KeyStatePendingDestruction
				rec.deprecatedAt = now
			}
		case domain.KeyStatePendingDestruction:
			if now.Sub(rec.deprecatedAt) >= m.rotationWindow {
				rec.metadata.State = domain.KeyStateDestroyed
			}
		}
	}
}

// RequireCanSign returns an apperrors.KindKeyInvalidState error if id is
// not in a signable state.
func (m *KeyManager) RequireCanSign(id domain.KeyID) error {
	meta, ok := m.Metadata(id)
	if !ok {
		return apperrors.New(apperrors.KindKeyNotFound, fmt.Sprintf("key %s not found", id))
	}
	if !meta.CanSign() {
		return apperrors.New(apperrors.KindKeyInvalidState, fmt.Sprintf("key %s is %s, cannot sign", id, meta.State))
	}
	return nil
}

// RequireCanVerify returns an apperrors.KindKeyInvalidState error if id is
// not in a verifiable state.
func (m *KeyManager) RequireCanVerify(id domain.KeyID) error {
	meta, ok := m.Metadata(id)
	if !ok {
		return apperrors.New(apperrors.KindKeyNotFound, fmt.Sprintf("key %s not found", id))
	}
	if !meta.CanVerify() {
		return apperrors.New(apperrors.KindKeyInvalidState, fmt.Sprintf("key %s is %s, cannot verify", id, meta.State))
	}
	return nil
}
