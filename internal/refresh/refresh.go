// Package refresh implements the refresh-token rotator (spec §4.9): opaque
// high-entropy refresh tokens, hash-only storage, single-use rotation with
// replay detection, and per-family/per-user revocation.
package refresh

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/domain"
)

// tokenEntropyBytes yields a 256-bit opaque token once base64url-encoded.
const tokenEntropyBytes = 32

const (
	familyNamespace = "refresh_family"
	hashIndexNamespace = "refresh_hash_idx"
	userIndexNamespace = "refresh_user_idx"
)

// Store is the narrow persistence surface the rotator needs.
// internal/infra/redis.Backend satisfies this.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
}

// EventEmitter publishes a CAEP SET when the rotator detects token replay
// (spec §4.9 step 5). internal/caep.Transmitter satisfies this.
type EventEmitter interface {
	EmitSessionRevoked(ctx context.Context, familyID, userID, reason string) error
}

// noopEmitter is used when no EventEmitter is configured.
type noopEmitter struct{}

func (noopEmitter) EmitSessionRevoked(context.Context, string, string, string) error { return nil }

// Rotator implements spec §4.9's create/rotate/revoke operations.
type Rotator struct {
	store  Store
	events EventEmitter
	cfg    config.RefreshConfig
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithEventEmitter wires a SET transmitter for replay-triggered revocation
// notices.
func WithEventEmitter(e EventEmitter) Option {
	return func(r *Rotator) { r.events = e }
}

// New constructs a Rotator backed by store.
func New(store Store, cfg config.RefreshConfig, opts ...Option) *Rotator {
	r := &Rotator{store: store, events: noopEmitter{}, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// userIndex is the JSON shape stored under userIndexNamespace:user_id.
type userIndex struct {
	FamilyIDs []string `json:"family_ids"`
}

// hashToken returns the hex SHA-256 digest of an opaque refresh token. Only
// this digest is ever persisted.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum[:])
}

// generateToken returns a new opaque, ≥256-bit-entropy refresh token.
func generateToken() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", apperrors.Wrap(apperrors.KindRefreshInternal, "could not generate refresh token", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateTokenFamily generates a new opaque token and family, persists the
// family, and indexes it by current-hash and by user (spec §4.9
// create_token_family).
func (r *Rotator) CreateTokenFamily(ctx context.Context, userID, sessionID string, ttl time.Duration) (token string, family domain.TokenFamily, err error) {
	if ttl <= 0 {
		ttl = r.cfg.TTL
	}

	token, err = generateToken()
	if err != nil {
		return "", domain.TokenFamily{}, err
	}

	family = domain.TokenFamily{
		FamilyID:    uuid.NewString(),
		UserID:      userID,
		SessionID:   sessionID,
		CurrentHash: hashToken(token),
		CreatedAt:   time.Now().UTC(),
	}

	if err := r.persistFamily(ctx, family, ttl); err != nil {
		return "", domain.TokenFamily{}, err
	}
	if err := r.indexHash(ctx, family.CurrentHash, family.FamilyID, ttl); err != nil {
		return "", domain.TokenFamily{}, err
	}
	if err := r.addToUserIndex(ctx, userID, family.FamilyID, ttl); err != nil {
		return "", domain.TokenFamily{}, err
	}

	return token, family, nil
}

// Rotate implements spec §4.9 rotate steps 1-6: single-use rotation with
// replay detection. A successful return means the presented token is
// consumed and cannot rotate again.
func (r *Rotator) Rotate(ctx context.Context, presentedToken string, ttl time.Duration) (newToken string, family domain.TokenFamily, err error) {
	if ttl <= 0 {
		ttl = r.cfg.TTL
	}

	hash := hashToken(presentedToken)

	familyID, ok, err := r.lookupHash(ctx, hash)
	if err != nil {
		return "", domain.TokenFamily{}, err
	}
	if !ok {
		return "", domain.TokenFamily{}, apperrors.New(apperrors.KindRefreshInvalid, "refresh token does not match any known family")
	}

	family, ok, err = r.loadFamily(ctx, familyID)
	if err != nil {
		return "", domain.TokenFamily{}, err
	}
	if !ok {
		return "", domain.TokenFamily{}, apperrors.New(apperrors.KindRefreshInvalid, "refresh token family no longer exists")
	}

	if family.Revoked {
		return "", domain.TokenFamily{}, apperrors.New(apperrors.KindFamilyRevoked, "refresh token family has been revoked")
	}

	if family.CurrentHash != hash {
		// hash isn't current: either it's a previously-rotated-away hash
		// (replay) or stale data. Either way the family is compromised.
		family.Revoke(time.Now().UTC())
		if persistErr := r.persistFamily(ctx, family, ttl); persistErr != nil {
			return "", domain.TokenFamily{}, persistErr
		}
		if emitErr := r.events.EmitSessionRevoked(ctx, family.FamilyID, family.UserID, "refresh-replay"); emitErr != nil {
			return "", domain.TokenFamily{}, emitErr
		}
		return "", domain.TokenFamily{}, apperrors.New(apperrors.KindRefreshReplay, "refresh token has already been rotated")
	}

	newToken, err = generateToken()
	if err != nil {
		return "", domain.TokenFamily{}, err
	}
	newHash := hashToken(newToken)
	family.Rotate(newHash)

	if err := r.persistFamily(ctx, family, ttl); err != nil {
		return "", domain.TokenFamily{}, err
	}
	if err := r.indexHash(ctx, newHash, family.FamilyID, ttl); err != nil {
		return "", domain.TokenFamily{}, err
	}

	return newToken, family, nil
}

// RevokeByPresentedToken hashes presentedToken, resolves it to a family via
// the hash index, and revokes that family. Used by the Token Service's
// RevokeToken RPC (spec §4.11) when the caller presents a refresh token
// rather than a family_id.
func (r *Rotator) RevokeByPresentedToken(ctx context.Context, presentedToken string) error {
	familyID, ok, err := r.lookupHash(ctx, hashToken(presentedToken))
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.KindRefreshInvalid, "refresh token does not match any known family")
	}
	return r.RevokeFamily(ctx, familyID)
}

// RevokeFamily marks a family revoked by ID (spec §4.9 revoke_family).
func (r *Rotator) RevokeFamily(ctx context.Context, familyID string) error {
	family, ok, err := r.loadFamily(ctx, familyID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.KindRefreshInvalid, "refresh token family not found")
	}
	family.Revoke(time.Now().UTC())
	return r.persistFamily(ctx, family, r.cfg.TTL)
}

// RevokeAllUserTokens enumerates the user's family index and revokes every
// family (spec §4.9 revoke_all_user_tokens).
func (r *Rotator) RevokeAllUserTokens(ctx context.Context, userID string) error {
	raw, ok, err := r.store.Get(ctx, userIndexNamespace, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "refresh user index lookup failed", err)
	}
	if !ok {
		return nil
	}
	var idx userIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return apperrors.Wrap(apperrors.KindRefreshInternal, "refresh user index is corrupt", err)
	}
	for _, familyID := range idx.FamilyIDs {
		if err := r.RevokeFamily(ctx, familyID); err != nil && !apperrors.Is(err, apperrors.KindRefreshInvalid) {
			return err
		}
	}
	return nil
}

func (r *Rotator) persistFamily(ctx context.Context, family domain.TokenFamily, ttl time.Duration) error {
	raw, err := json.Marshal(family)
	if err != nil {
		return apperrors.Wrap(apperrors.KindRefreshInternal, "refresh family encoding failed", err)
	}
	if err := r.store.Set(ctx, familyNamespace, family.FamilyID, raw, ttl); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "refresh family store failed", err)
	}
	return nil
}

func (r *Rotator) loadFamily(ctx context.Context, familyID string) (domain.TokenFamily, bool, error) {
	raw, ok, err := r.store.Get(ctx, familyNamespace, familyID)
	if err != nil {
		return domain.TokenFamily{}, false, apperrors.Wrap(apperrors.KindUnavailable, "refresh family lookup failed", err)
	}
	if !ok {
		return domain.TokenFamily{}, false, nil
	}
	var family domain.TokenFamily
	if err := json.Unmarshal(raw, &family); err != nil {
		return domain.TokenFamily{}, false, apperrors.Wrap(apperrors.KindRefreshInternal, "refresh family is corrupt", err)
	}
	return family, true, nil
}

func (r *Rotator) indexHash(ctx context.Context, hash, familyID string, ttl time.Duration) error {
	if err := r.store.Set(ctx, hashIndexNamespace, hash, []byte(familyID), ttl); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "refresh hash index store failed", err)
	}
	return nil
}

func (r *Rotator) lookupHash(ctx context.Context, hash string) (familyID string, ok bool, err error) {
	raw, ok, err := r.store.Get(ctx, hashIndexNamespace, hash)
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.KindUnavailable, "refresh hash index lookup failed", err)
	}
	if !ok {
		return "", false, nil
	}
	return string(raw), true, nil
}

func (r *Rotator) addToUserIndex(ctx context.Context, userID, familyID string, ttl time.Duration) error {
	raw, ok, err := r.store.Get(ctx, userIndexNamespace, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "refresh user index lookup failed", err)
	}
	var idx userIndex
	if ok {
		if err := json.Unmarshal(raw, &idx); err != nil {
			return apperrors.Wrap(apperrors.KindRefreshInternal, "refresh user index is corrupt", err)
		}
	}
	idx.FamilyIDs = append(idx.FamilyIDs, familyID)

	encoded, err := json.Marshal(idx)
	if err != nil {
		return apperrors.Wrap(apperrors.KindRefreshInternal, "refresh user index encoding failed", err)
	}
	// The user index must outlive any single family's TTL since more
	// families get appended to it over the user's lifetime; it is stored
	// for ten times the longer of ttl and the configured refresh TTL.
	indexTTL := ttl
	if indexTTL < r.cfg.TTL {
		indexTTL = r.cfg.TTL
	}
	if err := r.store.Set(ctx, userIndexNamespace, userID, encoded, indexTTL*10); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "refresh user index store failed", err)
	}
	return nil
}
