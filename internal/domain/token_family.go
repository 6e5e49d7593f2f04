package domain

import "time"

// TokenFamily is the set of refresh tokens produced by rotation from one
// initial issuance (spec §3 "Token Family").
type TokenFamily struct {
	FamilyID      string
	UserID        string
	SessionID     string
	CurrentHash   string
	PreviousHashes []string
	RotationCount int
	Revoked       bool
	RevokedAt     *time.Time
	CreatedAt     time.Time
}

// MaxPreviousHashes bounds the retained replay-detection window per family.
const MaxPreviousHashes = 10

// ContainsHash reports whether hash equals the current hash or appears
// among the bounded previous hashes.
func (f *TokenFamily) ContainsHash(hash string) bool {
	return f.CurrentHash == hash || f.hasPrevious(hash)
}

func (f *TokenFamily) hasPrevious(hash string) bool {
	for _, h := range f.PreviousHashes {
		if h == hash {
			return true
		}
	}
	return false
}

// Rotate replaces the current hash with newHash, pushing the old current
// hash onto the bounded previous-hash list, and increments RotationCount.
// Callers must have already verified that presentedHash == f.CurrentHash.
func (f *TokenFamily) Rotate(newHash string) {
	f.PreviousHashes = append(f.PreviousHashes, f.CurrentHash)
	if len(f.PreviousHashes) > MaxPreviousHashes {
		f.PreviousHashes = f.PreviousHashes[len(f.PreviousHashes)-MaxPreviousHashes:]
	}
	f.CurrentHash = newHash
	f.RotationCount++
}

// Revoke marks the family as revoked, stamping RevokedAt if not already set.
func (f *TokenFamily) Revoke(at time.Time) {
	if f.Revoked {
		return
	}
	f.Revoked = true
	f.RevokedAt = &at
}
