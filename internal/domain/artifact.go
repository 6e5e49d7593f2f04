package domain

// EncryptedArtifact is the at-rest representation of an AES-256-GCM
// encrypted payload (spec §3 "Encrypted Artifact").
type EncryptedArtifact struct {
	Ciphertext []byte
	IV         [12]byte // 96-bit nonce
	Tag        [16]byte // 128-bit authentication tag
	KeyID      KeyID
	Algorithm  string
}

// AlgorithmAES256GCM is the sole supported encryption algorithm identifier.
const AlgorithmAES256GCM = "AES-256-GCM"

// IsLocalFallback reports whether this artifact was produced by the local
// AES-GCM fallback rather than the remote crypto service.
func (a EncryptedArtifact) IsLocalFallback() bool {
	return a.KeyID.IsLocalFallback()
}
