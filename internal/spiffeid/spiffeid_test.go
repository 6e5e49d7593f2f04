package spiffeid

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
)

func TestParse_ValidID(t *testing.T) {
	id, err := Parse("spiffe://lattice.example.com/ns/prod/sa/token-service")
	require.NoError(t, err)
	assert.Equal(t, "lattice.example.com", id.TrustDomain())
	assert.Equal(t, []string{"ns", "prod", "sa", "token-service"}, id.PathSegments())
	assert.Equal(t, "token-service", id.ServiceName())
}

func TestParse_RejectsNonSpiffeScheme(t *testing.T) {
	_, err := Parse("https://lattice.example.com/ns/prod")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindSPIFFEInvalid))
}

func TestParse_RejectsTrustDomainWithoutDot(t *testing.T) {
	_, err := Parse("spiffe://localhost/ns/prod")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindSPIFFEInvalid))
}

func TestParse_RejectsOversizedLabel(t *testing.T) {
	longLabel := ""
	for i := 0; i < 64; i++ {
		longLabel += "a"
	}
	_, err := Parse("spiffe://" + longLabel + ".example.com/ns")
	require.Error(t, err)
}

func TestParse_FiltersEmptyPathSegments(t *testing.T) {
	id, err := Parse("spiffe://lattice.example.com//ns//prod/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns", "prod"}, id.PathSegments())
}

func TestAllowlist_AllowsConfiguredDomain(t *testing.T) {
	allowlist := NewAllowlist(config.SPIFFEConfig{TrustDomainAllowlist: []string{"lattice.example.com"}})
	id, err := Parse("spiffe://lattice.example.com/ns/prod")
	require.NoError(t, err)
	assert.True(t, allowlist.Allows(id))
}

func TestAllowlist_DeniesUnconfiguredDomain(t *testing.T) {
	allowlist := NewAllowlist(config.SPIFFEConfig{TrustDomainAllowlist: []string{"other.example.com"}})
	id, err := Parse("spiffe://lattice.example.com/ns/prod")
	require.NoError(t, err)
	assert.False(t, allowlist.Allows(id))
}

func TestAllowlist_EmptyAllowlistFailsClosed(t *testing.T) {
	allowlist := NewAllowlist(config.SPIFFEConfig{})
	id, err := Parse("spiffe://lattice.example.com/ns/prod")
	require.NoError(t, err)
	assert.False(t, allowlist.Allows(id))
}

func selfSignedCertWithSPIFFEURI(t *testing.T, spiffeURI string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	u, err := url.Parse(spiffeURI)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		URIs:         []*url.URL{u},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestFromCertificatePEM_ExtractsSPIFFEID(t *testing.T) {
	certPEM := selfSignedCertWithSPIFFEURI(t, "spiffe://lattice.example.com/ns/prod/sa/token-service")
	id, err := FromCertificatePEM(certPEM)
	require.NoError(t, err)
	assert.Equal(t, "lattice.example.com", id.TrustDomain())
	assert.Equal(t, "token-service", id.ServiceName())
}

func TestFromCertificatePEM_NoSPIFFEURIFails(t *testing.T) {
	certPEM := selfSignedCertWithSPIFFEURI(t, "https://not-spiffe.example.com/x")
	_, err := FromCertificatePEM(certPEM)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindCertificateInvalid))
}

func TestFromCertificatePEM_InvalidPEMFails(t *testing.T) {
	_, err := FromCertificatePEM([]byte("not pem"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindCertificateInvalid))
}
