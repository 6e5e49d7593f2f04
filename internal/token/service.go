package token

import (
	"context"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/dpop"
	identjwt "github.com/lattice-id/identity-core/internal/jwt"
	"github.com/lattice-id/identity-core/internal/refresh"
)

const revocationNamespace = "revoked_access_jti"

// RevocationStore tracks revoked access-token jtis for the remainder of
// their lifetime (spec §4.11 RevokeToken).
type RevocationStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
}

// TokenType values returned alongside an issued token pair.
const TokenTypeBearer = "Bearer"

// IssueParams is the input to IssueTokenPair (spec §4.11).
type IssueParams struct {
	UserID       string
	ClientID     string
	Scopes       []string
	SessionID    string
	CustomClaims map[string]string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	DPoPProof    string
}

// TokenPair is the result of a successful issuance or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	TokenType    string
}

// Service is the Token Service façade (spec §4.11).
type Service struct {
	publisher *Publisher
	rotator   *refresh.Rotator
	revoked   RevocationStore
	validator *identjwt.Validator
	cfg       config.TokenConfig
}

// New constructs a Service.
func New(publisher *Publisher, rotator *refresh.Rotator, revoked RevocationStore, cfg config.TokenConfig) *Service {
	jwtCfg := config.JWTConfig{ClockSkew: 60 * time.Second}
	return &Service{
		publisher: publisher,
		rotator:   rotator,
		revoked:   revoked,
		validator: identjwt.New(publisher, jwtCfg),
		cfg:       cfg,
	}
}

// IssueTokenPair builds and signs an access token and mints a refresh token
// family (spec §4.11 IssueTokenPair).
func (s *Service) IssueTokenPair(ctx context.Context, params IssueParams) (TokenPair, error) {
	accessTTL := params.AccessTTL
	if accessTTL <= 0 {
		accessTTL = s.cfg.AccessTTL
	}
	refreshTTL := params.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = s.cfg.DefaultRefreshTTL
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss":        s.cfg.Issuer,
		"sub":        params.UserID,
		"aud":        []string{params.ClientID},
		"iat":        now.Unix(),
		"exp":        now.Add(accessTTL).Unix(),
		"jti":        uuid.NewString(),
		"session_id": params.SessionID,
		"scopes":     params.Scopes,
	}
	if len(params.CustomClaims) > 0 {
		claims["ext"] = params.CustomClaims
	}

	tokenType := TokenTypeBearer
	if params.DPoPProof != "" {
		proof, err := dpop.ParseAndVerify(params.DPoPProof)
		if err != nil {
			return TokenPair{}, err
		}
		jkt, err := proof.Thumbprint()
		if err != nil {
			return TokenPair{}, err
		}
		claims["cnf"] = map[string]any{"jkt": jkt}
		tokenType = "DPoP"
	}

	accessToken, _, err := s.publisher.Sign(ctx, claims)
	if err != nil {
		return TokenPair{}, err
	}

	refreshToken, _, err := s.rotator.CreateTokenFamily(ctx, params.UserID, params.SessionID, refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(accessTTL),
		TokenType:    tokenType,
	}, nil
}

// RefreshTokens rotates refreshToken and signs a fresh access token (spec
// §4.11 RefreshTokens). Rotator error Kinds already map one-to-one onto the
// surfaced statuses spec §4.11 names (refresh-invalid, refresh-replay,
// family-revoked all surface as unauthenticated per apperrors' Kind→Status
// table) so no remapping happens here.
func (s *Service) RefreshTokens(ctx context.Context, presentedToken, dpopProof string) (TokenPair, error) {
	newRefreshToken, family, err := s.rotator.Rotate(ctx, presentedToken, s.cfg.DefaultRefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss":        s.cfg.Issuer,
		"sub":        family.UserID,
		"iat":        now.Unix(),
		"exp":        now.Add(s.cfg.AccessTTL).Unix(),
		"jti":        uuid.NewString(),
		"session_id": family.SessionID,
	}

	tokenType := TokenTypeBearer
	if dpopProof != "" {
		proof, err := dpop.ParseAndVerify(dpopProof)
		if err != nil {
			return TokenPair{}, err
		}
		jkt, err := proof.Thumbprint()
		if err != nil {
			return TokenPair{}, err
		}
		claims["cnf"] = map[string]any{"jkt": jkt}
		tokenType = "DPoP"
	}

	accessToken, _, err := s.publisher.Sign(ctx, claims)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		ExpiresAt:    now.Add(s.cfg.AccessTTL),
		TokenType:    tokenType,
	}, nil
}

// RevokeToken revokes a single token (spec §4.11 RevokeToken): for a
// refresh token, revoke its family; for an access token, deny-list its jti
// for the remainder of its natural lifetime.
func (s *Service) RevokeToken(ctx context.Context, token, tokenTypeHint string) error {
	if tokenTypeHint == "refresh_token" {
		return s.rotator.RevokeByPresentedToken(ctx, token)
	}
	return s.revokeAccessToken(ctx, token)
}

func (s *Service) revokeAccessToken(ctx context.Context, token string) error {
	unvalidated, err := identjwt.Parse(token)
	if err != nil {
		return err
	}
	sv, err := s.validator.ValidateSignature(ctx, unvalidated)
	if err != nil {
		return err
	}
	validated, err := s.validator.Validate(sv, time.Now())
	if err != nil {
		return err
	}
	claims := validated.Claims()

	remaining := time.Until(claims.ExpiresAtTime())
	if remaining <= 0 {
		return nil
	}
	return s.revoked.Set(ctx, revocationNamespace, claims.ID, []byte{1}, remaining)
}

// IsRevoked reports whether jti has been explicitly revoked via
// RevokeToken.
func (s *Service) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, ok, err := s.revoked.Get(ctx, revocationNamespace, jti)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindUnavailable, "revocation lookup failed", err)
	}
	return ok, nil
}

// RevokeAllUserTokens revokes every refresh family belonging to userID
// (spec §4.11 RevokeAllUserTokens).
func (s *Service) RevokeAllUserTokens(ctx context.Context, userID string) error {
	return s.rotator.RevokeAllUserTokens(ctx, userID)
}

// GetJWKS returns the publisher's current-plus-previous key set (spec
// §4.11 GetJWKS).
func (s *Service) GetJWKS() jose.JSONWebKeySet {
	return s.publisher.JWKS()
}

// RotateSigningKey generates a new signing key and publishes it as current
// (spec §4.11 RotateSigningKey).
func (s *Service) RotateSigningKey(ctx context.Context) error {
	return s.publisher.Rotate(ctx)
}
