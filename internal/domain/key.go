package domain

import "fmt"

// KeyState is a lifecycle state of a keying material version (spec §3
// "Key ID"): pending-activation → active → deprecated → pending-destruction
// → destroyed.
type KeyState string

const (
	KeyStatePendingActivation  KeyState = "pending-activation"
	KeyStateActive             KeyState = "active"
	KeyStateDeprecated         KeyState = "deprecated"
	KeyStatePendingDestruction KeyState = "pending-destruction"
	KeyStateDestroyed          KeyState = "destroyed"
)

// KeyID identifies a version of keying material. Equality is structural.
type KeyID struct {
	Namespace string
	ID        string
	Version   int
}

// String renders the pretty form "namespace:id:vN".
func (k KeyID) String() string {
	return fmt.Sprintf("%s:%s:v%d", k.Namespace, k.ID, k.Version)
}

// Equal reports structural equality.
func (k KeyID) Equal(other KeyID) bool {
	return k.Namespace == other.Namespace && k.ID == other.ID && k.Version == other.Version
}

// LocalFallbackNamespace marks KeyIDs minted by the in-process AES-GCM
// fallback rather than the remote crypto service.
const LocalFallbackNamespace = "local-fallback"

// IsLocalFallback reports whether k was minted by the local fallback path.
func (k KeyID) IsLocalFallback() bool {
	return k.Namespace == LocalFallbackNamespace
}

// KeyMetadata describes a key version's lifecycle state alongside its KeyID.
type KeyMetadata struct {
	ID    KeyID
	State KeyState
}

// CanSign reports whether a key in this state may be used to produce new
// signatures (spec §3: can_sign = state==active).
func (m KeyMetadata) CanSign() bool {
	return m.State == KeyStateActive
}

// CanVerify reports whether a key in this state may still verify existing
// signatures (spec §3: can_verify = state in {active, deprecated}).
func (m KeyMetadata) CanVerify() bool {
	return m.State == KeyStateActive || m.State == KeyStateDeprecated
}
