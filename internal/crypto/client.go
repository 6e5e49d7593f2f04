package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/domain"
	"github.com/lattice-id/identity-core/internal/ratelimit"
	"github.com/lattice-id/identity-core/internal/resilience"
)

// localSigningKeyLogicalName is the logical name under which the long-lived
// local ECDSA fallback signing key is tracked. It is generated once per
// Client and never rotated through KeyManager, mirroring the single static
// AES key backing the encrypt/decrypt fallback path.
const localSigningKeyLogicalName = "signing"

// RemoteCrypto is the interface a remote key-management/envelope-encryption
// service implements. Deployments without one configured run entirely on
// the local AES-GCM fallback.
type RemoteCrypto interface {
	Encrypt(ctx context.Context, keyID domain.KeyID, plaintext, aad []byte) (ciphertext []byte, iv [12]byte, tag [16]byte, err error)
	Decrypt(ctx context.Context, keyID domain.KeyID, ciphertext, iv, tag, aad []byte) (plaintext []byte, err error)
}

// RemoteSigner is the interface a remote KMS implements for the signing
// side of the crypto client façade (spec §4.5: sign, verify, generate-key,
// rotate-key, get-key-metadata). Deployments without one configured sign
// and verify entirely against the Client's local ECDSA fallback key.
type RemoteSigner interface {
	GenerateKey(ctx context.Context, keyID domain.KeyID) (publicKeyDER []byte, err error)
	RotateKey(ctx context.Context, oldKeyID, newKeyID domain.KeyID) (publicKeyDER []byte, err error)
	Sign(ctx context.Context, keyID domain.KeyID, digest []byte) (signature []byte, err error)
	Verify(ctx context.Context, keyID domain.KeyID, digest, signature []byte) (valid bool, err error)
	GetKeyMetadata(ctx context.Context, keyID domain.KeyID) (domain.KeyMetadata, error)
}

// Client is the crypto client façade (spec §4.5): every caller that needs
// to encrypt, decrypt, sign, or verify a payload for a namespace/logical-
// key-name pair goes through here. It prefers a configured remote backend,
// guarded by a rate limiter, circuit breaker, and retry policy, and
// transparently falls back to in-process key material when the remote is
// unavailable and fallback is enabled (spec §4.5: "never blocks on the
// remote service being down if fallback is enabled").
type Client struct {
	namespace       string
	fallbackEnabled bool
	localKey        [32]byte
	clientID        string

	remote  RemoteCrypto
	signer  RemoteSigner
	keys    *KeyManager
	breaker *resilience.CircuitBreaker
	retrier *resilience.Retrier
	metrics *Metrics
	limiter *ratelimit.Limiter

	signingMu         sync.Mutex
	localSigningKey   *ecdsa.PrivateKey
	localSigningKeyID domain.KeyID
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRemote attaches a remote crypto backend for encrypt/decrypt.
func WithRemote(r RemoteCrypto) ClientOption {
	return func(c *Client) { c.remote = r }
}

// WithSigner attaches a remote KMS backend for sign/verify/generate-key/
// rotate-key/get-key-metadata.
func WithSigner(s RemoteSigner) ClientOption {
	return func(c *Client) { c.signer = s }
}

// WithMetrics attaches fallback-activation metrics.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithRateLimiter attaches the rate limiter gating every Client operation
// (spec §4.5 step 2: "rate_limiter.check()" before the breaker is
// consulted). A Client with no limiter wired never throttles, which is the
// default for deployments that haven't configured one yet.
func WithRateLimiter(l *ratelimit.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithClientID overrides the identity the rate limiter tracks for this
// Client's calls. Defaults to cfg.Namespace.
func WithClientID(id string) ClientOption {
	return func(c *Client) { c.clientID = id }
}

// NewClient constructs a Client. localKey is the 32-byte AES-256 key used
// for the local fallback path (spec §4.5), normally sourced from
// CryptoConfig.LocalFallbackKeyHex or generated at startup if unset.
func NewClient(cfg config.CryptoConfig, keys *KeyManager, localKey [32]byte, opts ...ClientOption) *Client {
	c := &Client{
		namespace:       cfg.Namespace,
		fallbackEnabled: cfg.FallbackEnabled,
		localKey:        localKey,
		clientID:        cfg.Namespace,
		keys:            keys,
		breaker: resilience.NewCircuitBreaker("crypto-remote", config.CircuitBreakerConfig{
			FailureThreshold:    5,
			SuccessThreshold:    2,
			OpenTimeout:         30 * time.Second,
			HalfOpenMaxInflight: 1,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithBreaker overrides the circuit breaker guarding the remote backend.
func WithBreaker(cb *resilience.CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = cb }
}

// WithRetrier overrides the retry policy guarding the remote backend.
func WithRetrier(r *resilience.Retrier) ClientOption {
	return func(c *Client) { c.retrier = r }
}

// checkRateLimit runs spec §4.5 step 2 ahead of the breaker check on every
// operation. A nil limiter always allows.
func (c *Client) checkRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	decision, err := c.limiter.Check(ctx, c.clientID, time.Now())
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return apperrors.WithRetryAfter(
			apperrors.New(apperrors.KindRateLimited, "crypto client rate limit exceeded"),
			decision.RetryAfter)
	}
	return nil
}

// WellKnownKeyID returns the canonical version-1 KeyID KeyManager.Initialize
// probes before deciding whether to mint a new key for logicalName.
func (c *Client) WellKnownKeyID(logicalName string) domain.KeyID {
	return domain.KeyID{Namespace: c.namespace, ID: logicalName, Version: 1}
}

// aad builds the additional authenticated data binding a ciphertext to the
// namespace and logical key name it was encrypted under (spec §4.5:
// "AAD = namespace ':' logical_key_name").
func aad(namespace, logicalName string) []byte {
	return []byte(namespace + ":" + logicalName)
}

// Encrypt encrypts plaintext under the active key for logicalName, trying
// the remote backend first (if configured) and falling back to the local
// AES-256-GCM key on failure when fallback is enabled.
func (c *Client) Encrypt(ctx context.Context, logicalName string, plaintext []byte) (domain.EncryptedArtifact, error) {
	if err := c.checkRateLimit(ctx); err != nil {
		return domain.EncryptedArtifact{}, err
	}

	a := aad(c.namespace, logicalName)

	if c.remote != nil {
		keyID, ok := c.keys.Active(logicalName)
		if ok {
			artifact, err := c.encryptRemote(ctx, keyID, plaintext, a)
			if err == nil {
				return artifact, nil
			}
			if !c.fallbackEnabled {
				return domain.EncryptedArtifact{}, apperrors.Wrap(apperrors.KindEncryptionFailed, "remote encryption failed and fallback is disabled", err)
			}
			c.recordFallback()
		}
	}

	return c.encryptLocal(plaintext, a)
}

func (c *Client) encryptRemote(ctx context.Context, keyID domain.KeyID, plaintext, aad []byte) (domain.EncryptedArtifact, error) {
	var ciphertext []byte
	var iv [12]byte
	var tag [16]byte

	do := func(ctx context.Context) error {
		var err error
		ciphertext, iv, tag, err = c.remote.Encrypt(ctx, keyID, plaintext, aad)
		return err
	}
	run := do
	if c.retrier != nil {
		run = func(ctx context.Context) error { return c.retrier.Do(ctx, do) }
	}

	if err := c.breaker.Execute(ctx, run); err != nil {
		return domain.EncryptedArtifact{}, err
	}
	return domain.EncryptedArtifact{
		Ciphertext: ciphertext,
		IV:         iv,
		Tag:        tag,
		KeyID:      keyID,
		Algorithm:  domain.AlgorithmAES256GCM,
	}, nil
}

// encryptLocal always succeeds or returns a DomainError; it never falls
// further back, since the local key is the fallback of last resort.
func (c *Client) encryptLocal(plaintext, aad []byte) (domain.EncryptedArtifact, error) {
	block, err := aes.NewCipher(c.localKey[:])
	if err != nil {
		return domain.EncryptedArtifact{}, apperrors.Wrap(apperrors.KindEncryptionFailed, "local fallback cipher init failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return domain.EncryptedArtifact{}, apperrors.Wrap(apperrors.KindEncryptionFailed, "local fallback GCM init failed", err)
	}

	var iv [12]byte
	if _, err := io.ReadFull(rand.Reader, iv[:]); err != nil {
		return domain.EncryptedArtifact{}, apperrors.Wrap(apperrors.KindEncryptionFailed, "local fallback nonce generation failed", err)
	}

	sealed := gcm.Seal(nil, iv[:], plaintext, aad)
	ciphertext, tagBytes := sealed[:len(sealed)-gcm.Overhead()], sealed[len(sealed)-gcm.Overhead():]
	var tag [16]byte
	copy(tag[:], tagBytes)

	keyID := domain.KeyID{Namespace: domain.LocalFallbackNamespace, ID: "fallback", Version: 1}
	return domain.EncryptedArtifact{
		Ciphertext: ciphertext,
		IV:         iv,
		Tag:        tag,
		KeyID:      keyID,
		Algorithm:  domain.AlgorithmAES256GCM,
	}, nil
}

// Decrypt reverses Encrypt. It dispatches to the local fallback path or the
// remote backend based on artifact.KeyID, since a given artifact was
// produced by exactly one of them and must be decrypted the same way.
func (c *Client) Decrypt(ctx context.Context, artifact domain.EncryptedArtifact, logicalName string) ([]byte, error) {
	if err := c.checkRateLimit(ctx); err != nil {
		return nil, err
	}

	a := aad(c.namespace, logicalName)

	if artifact.IsLocalFallback() {
		return c.decryptLocal(artifact, a)
	}

	if c.remote == nil {
		return nil, apperrors.New(apperrors.KindDecryptionFailed, "artifact requires the remote backend but none is configured")
	}

	var plaintext []byte
	do := func(ctx context.Context) error {
		var err error
		plaintext, err = c.remote.Decrypt(ctx, artifact.KeyID, artifact.Ciphertext, artifact.IV[:], artifact.Tag[:], a)
		return err
	}
	run := do
	if c.retrier != nil {
		run = func(ctx context.Context) error { return c.retrier.Do(ctx, do) }
	}
	if err := c.breaker.Execute(ctx, run); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDecryptionFailed, "remote decryption failed", err)
	}
	return plaintext, nil
}

func (c *Client) decryptLocal(artifact domain.EncryptedArtifact, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.localKey[:])
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDecryptionFailed, "local fallback cipher init failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDecryptionFailed, "local fallback GCM init failed", err)
	}

	sealed := append(append([]byte{}, artifact.Ciphertext...), artifact.Tag[:]...)
	plaintext, err := gcm.Open(nil, artifact.IV[:], sealed, aad)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDecryptionFailed, "local fallback authentication failed", err)
	}
	return plaintext, nil
}

// GenerateKey mints a new active key for logicalName (spec §4.5
// "generate-key"), registering it with the local KeyManager regardless of
// backend and, when a remote signer is configured, asking it to provision
// the matching key material too. It returns the resulting KeyID alongside
// its public key material (DER-encoded, SubjectPublicKeyInfo), so a caller
// publishing JWKS never has to ask twice. With no remote signer configured,
// or when the remote call fails and fallback is enabled, it instead returns
// the Client's local ECDSA public key under the local-fallback KeyID.
func (c *Client) GenerateKey(ctx context.Context, logicalName string) (domain.KeyID, []byte, error) {
	if err := c.checkRateLimit(ctx); err != nil {
		return domain.KeyID{}, nil, err
	}

	id := c.keys.Activate(logicalName)
	if c.signer != nil {
		var der []byte
		do := func(ctx context.Context) error {
			var err error
			der, err = c.signer.GenerateKey(ctx, id)
			return err
		}
		if err := c.breaker.Execute(ctx, do); err == nil {
			return id, der, nil
		} else if !c.fallbackEnabled {
			return domain.KeyID{}, nil, apperrors.Wrap(apperrors.KindKeyInvalidState, "remote key generation failed and fallback is disabled", err)
		}
		c.recordFallback()
	}

	return c.localSigningPublicKeyDER()
}

// RotateKey mints the next version of logicalName as active, demoting the
// previous version to deprecated (spec §4.5 "rotate-key"). Unlike sign and
// generate-key, rotate-key does not fall back on a remote failure: minting
// a fallback-only active key here would leave this process and the remote
// KMS disagreeing about which version is active, so the call fails
// outright instead. With no remote signer configured, the local fallback
// key is the only signing key and rotate-key is bookkeeping only; it
// returns that key's unchanged public key material.
func (c *Client) RotateKey(ctx context.Context, logicalName string) (domain.KeyID, []byte, error) {
	if err := c.checkRateLimit(ctx); err != nil {
		return domain.KeyID{}, nil, err
	}

	if c.signer == nil {
		id := c.keys.Rotate(logicalName)
		_, der, err := c.localSigningPublicKeyDER()
		if err != nil {
			return domain.KeyID{}, nil, err
		}
		return id, der, nil
	}

	prev, hadPrev := c.keys.Active(logicalName)
	nextVersion := 1
	if hadPrev {
		nextVersion = prev.Version + 1
	}
	next := domain.KeyID{Namespace: c.namespace, ID: logicalName, Version: nextVersion}
	var der []byte
	do := func(ctx context.Context) error {
		var err error
		der, err = c.signer.RotateKey(ctx, prev, next)
		return err
	}
	if err := c.breaker.Execute(ctx, do); err != nil {
		return domain.KeyID{}, nil, apperrors.Wrap(apperrors.KindUnavailable, "remote key rotation failed", err)
	}
	return c.keys.Rotate(logicalName), der, nil
}

// PredictSigningKeyID resolves which KeyID a Sign call for logicalName
// would presently use: the active remote-tracked key while a configured
// remote signer's circuit is closed, else the local fallback key. Callers
// that must embed a protected "kid" header before computing the bytes
// Sign will be asked to sign over (JWT compact serialization) use this to
// choose that header ahead of time; Sign re-reports the KeyID it actually
// used in case of a race with the breaker tripping mid-call.
func (c *Client) PredictSigningKeyID(logicalName string) (domain.KeyID, error) {
	active, ok := c.keys.Active(logicalName)
	if !ok {
		return domain.KeyID{}, apperrors.New(apperrors.KindKeyNotFound, "no active signing key for "+logicalName)
	}
	if err := c.keys.RequireCanSign(active); err != nil {
		return domain.KeyID{}, err
	}
	if c.signer != nil && c.breaker.State() == domain.CircuitClosed {
		return active, nil
	}
	_, fallbackID, err := c.ensureLocalSigningKey()
	if err != nil {
		return domain.KeyID{}, err
	}
	return fallbackID, nil
}

// GetKeyMetadata returns id's lifecycle state (spec §4.5 "get-key-
// metadata"), preferring the remote KMS's view when one is configured and
// reachable, else the locally tracked state.
func (c *Client) GetKeyMetadata(ctx context.Context, id domain.KeyID) (domain.KeyMetadata, error) {
	if err := c.checkRateLimit(ctx); err != nil {
		return domain.KeyMetadata{}, err
	}

	if c.signer != nil {
		var meta domain.KeyMetadata
		do := func(ctx context.Context) error {
			var err error
			meta, err = c.signer.GetKeyMetadata(ctx, id)
			return err
		}
		if err := c.breaker.Execute(ctx, do); err == nil {
			return meta, nil
		}
	}

	meta, ok := c.keys.Metadata(id)
	if !ok {
		return domain.KeyMetadata{}, apperrors.New(apperrors.KindKeyNotFound, "key "+id.String()+" not found")
	}
	return meta, nil
}

// Sign signs the SHA-256 digest of payload under the active key for
// logicalName (spec §4.5 "sign"): remote first when configured, rejecting
// up front if the active key's state is not active (spec §4.5 step 4),
// then falling back to this Client's own long-lived local ECDSA key when
// the remote is unreachable and fallback is enabled.
func (c *Client) Sign(ctx context.Context, logicalName string, payload []byte) ([]byte, domain.KeyID, error) {
	if err := c.checkRateLimit(ctx); err != nil {
		return nil, domain.KeyID{}, err
	}

	keyID, ok := c.keys.Active(logicalName)
	if !ok {
		return nil, domain.KeyID{}, apperrors.New(apperrors.KindKeyNotFound, "no active signing key for "+logicalName)
	}
	if err := c.keys.RequireCanSign(keyID); err != nil {
		return nil, domain.KeyID{}, err
	}

	digest := sha256.Sum256(payload)

	if c.signer != nil {
		var sig []byte
		do := func(ctx context.Context) error {
			var err error
			sig, err = c.signer.Sign(ctx, keyID, digest[:])
			return err
		}
		if err := c.breaker.Execute(ctx, do); err == nil {
			return sig, keyID, nil
		} else if !c.fallbackEnabled {
			return nil, domain.KeyID{}, apperrors.Wrap(apperrors.KindEncryptionFailed, "remote signing failed and fallback is disabled", err)
		}
		c.recordFallback()
	}

	return c.signLocal(digest[:])
}

// Verify checks signature over payload against keyID (spec §4.5 "verify").
// A local-fallback keyID is always verified locally since KeyManager never
// tracks it; any other keyID goes to the remote backend when configured.
func (c *Client) Verify(ctx context.Context, keyID domain.KeyID, payload, signature []byte) (bool, error) {
	if err := c.checkRateLimit(ctx); err != nil {
		return false, err
	}

	digest := sha256.Sum256(payload)

	if keyID.IsLocalFallback() {
		return c.verifyLocal(keyID, digest[:], signature)
	}

	if err := c.keys.RequireCanVerify(keyID); err != nil {
		return false, err
	}
	if c.signer == nil {
		return false, apperrors.New(apperrors.KindKeyNotFound, "verify requires a remote signer but none is configured")
	}

	var ok bool
	do := func(ctx context.Context) error {
		var err error
		ok, err = c.signer.Verify(ctx, keyID, digest[:], signature)
		return err
	}
	if err := c.breaker.Execute(ctx, do); err != nil {
		return false, apperrors.Wrap(apperrors.KindDecryptionFailed, "remote verification failed", err)
	}
	return ok, nil
}

func (c *Client) signLocal(digest []byte) ([]byte, domain.KeyID, error) {
	key, keyID, err := c.ensureLocalSigningKey()
	if err != nil {
		return nil, domain.KeyID{}, err
	}
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, domain.KeyID{}, apperrors.Wrap(apperrors.KindEncryptionFailed, "local fallback signing failed", err)
	}
	return encodeECDSASignature(r, s), keyID, nil
}

func (c *Client) verifyLocal(keyID domain.KeyID, digest, signature []byte) (bool, error) {
	c.signingMu.Lock()
	key := c.localSigningKey
	wantID := c.localSigningKeyID
	c.signingMu.Unlock()

	if key == nil || !keyID.Equal(wantID) || len(signature) != 64 {
		return false, nil
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	return ecdsa.Verify(&key.PublicKey, digest, r, s), nil
}

// ensureLocalSigningKey lazily generates this Client's single long-lived
// ECDSA fallback signing key on first use, mirroring the static AES key
// backing the encrypt/decrypt fallback path.
func (c *Client) ensureLocalSigningKey() (*ecdsa.PrivateKey, domain.KeyID, error) {
	c.signingMu.Lock()
	defer c.signingMu.Unlock()
	if c.localSigningKey != nil {
		return c.localSigningKey, c.localSigningKeyID, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, domain.KeyID{}, apperrors.Wrap(apperrors.KindEncryptionFailed, "local fallback signing key generation failed", err)
	}
	c.localSigningKey = key
	c.localSigningKeyID = domain.KeyID{Namespace: domain.LocalFallbackNamespace, ID: localSigningKeyLogicalName, Version: 1}
	return c.localSigningKey, c.localSigningKeyID, nil
}

// LocalSigningPublicKey exposes the local fallback signing key's public
// half and KeyID, generating the key if this is the first call. Callers
// publishing JWKS need this to advertise the fallback key alongside
// whatever the remote signer reports for other key versions.
func (c *Client) LocalSigningPublicKey() (*ecdsa.PublicKey, domain.KeyID, error) {
	key, keyID, err := c.ensureLocalSigningKey()
	if err != nil {
		return nil, domain.KeyID{}, err
	}
	return &key.PublicKey, keyID, nil
}

func (c *Client) localSigningPublicKeyDER() (domain.KeyID, []byte, error) {
	pub, keyID, err := c.LocalSigningPublicKey()
	if err != nil {
		return domain.KeyID{}, nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return domain.KeyID{}, nil, apperrors.Wrap(apperrors.KindEncryptionFailed, "local fallback public key encoding failed", err)
	}
	return keyID, der, nil
}

// encodeECDSASignature renders an ECDSA signature as the fixed-width
// r||s concatenation JOSE's ES256 expects (32 bytes each for P-256).
func encodeECDSASignature(r, s *big.Int) []byte {
	const coordSize = 32
	out := make([]byte, 2*coordSize)
	r.FillBytes(out[:coordSize])
	s.FillBytes(out[coordSize:])
	return out
}

func (c *Client) recordFallback() {
	if c.metrics != nil {
		c.metrics.RecordFallbackActivation()
	}
}
