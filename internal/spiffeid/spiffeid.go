// Package spiffeid implements SPIFFE workload identity parsing and
// trust-domain enforcement (spec §4.12), built on
// github.com/spiffe/go-spiffe/v2/spiffeid for the URI grammar and layered
// with this platform's own trust-domain and path invariants.
package spiffeid

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	goSpiffeID "github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
)

// ID is a parsed SPIFFE identity (spec §4.12): a borrowed view into the
// input URI plus an owned TrustDomain/PathSegments form for storage.
type ID struct {
	raw         goSpiffeID.ID
	pathSegments []string
}

// TrustDomain returns the trust domain component.
func (id ID) TrustDomain() string { return id.raw.TrustDomain().String() }

// PathSegments returns the path, split on "/" with empty segments filtered.
func (id ID) PathSegments() []string { return id.pathSegments }

// ServiceName returns the last non-empty path segment, the conventional
// leaf identifier for a workload (e.g. "spiffe://example.org/ns/prod/sa/token-service"
// → "token-service").
func (id ID) ServiceName() string {
	if len(id.pathSegments) == 0 {
		return ""
	}
	return id.pathSegments[len(id.pathSegments)-1]
}

// String renders the canonical spiffe:// URI.
func (id ID) String() string { return id.raw.String() }

// Parse parses raw as a SPIFFE ID and enforces this platform's trust-domain
// shape invariants (spec §4.12): scheme must be spiffe://, the trust domain
// must be a valid DNS name with at least one dot and labels of at most 63
// alphanumeric-or-hyphen characters. Empty path segments and a trailing
// slash are dropped before the URI is handed to go-spiffe, which rejects
// both.
func Parse(raw string) (ID, error) {
	if rest, ok := strings.CutPrefix(raw, "spiffe://"); ok {
		td, path, _ := strings.Cut(rest, "/")
		raw = "spiffe://" + td
		if segments := filterEmpty(strings.Split(path, "/")); len(segments) > 0 {
			raw += "/" + strings.Join(segments, "/")
		}
	}
	parsed, err := goSpiffeID.FromString(raw)
	if err != nil {
		return ID{}, apperrors.Wrap(apperrors.KindSPIFFEInvalid, "not a valid spiffe id", err)
	}

	if err := validateTrustDomain(parsed.TrustDomain().String()); err != nil {
		return ID{}, err
	}

	segments := filterEmpty(strings.Split(parsed.Path(), "/"))
	return ID{raw: parsed, pathSegments: segments}, nil
}

// validateTrustDomain enforces the DNS-name shape from spec §4.12: at
// least one dot, labels of 1-63 alphanumeric-or-hyphen characters.
func validateTrustDomain(td string) error {
	labels := strings.Split(td, ".")
	if len(labels) < 2 {
		return apperrors.New(apperrors.KindSPIFFEInvalid, fmt.Sprintf("trust domain %q must have at least one dot", td))
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return apperrors.New(apperrors.KindSPIFFEInvalid, fmt.Sprintf("trust domain %q has an invalid label length", td))
		}
		for _, r := range label {
			if !isAlnum(r) && r != '-' {
				return apperrors.New(apperrors.KindSPIFFEInvalid, fmt.Sprintf("trust domain %q contains an invalid character", td))
			}
		}
	}
	return nil
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func filterEmpty(segments []string) []string {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Allowlist enforces that a parsed ID's trust domain is one of cfg's
// configured allowlist entries.
type Allowlist struct {
	domains map[string]bool
}

// NewAllowlist constructs an Allowlist from configuration.
func NewAllowlist(cfg config.SPIFFEConfig) Allowlist {
	domains := make(map[string]bool, len(cfg.TrustDomainAllowlist))
	for _, d := range cfg.TrustDomainAllowlist {
		domains[d] = true
	}
	return Allowlist{domains: domains}
}

// Allows reports whether id's trust domain is in the allowlist. An empty
// allowlist denies everything, failing closed.
func (a Allowlist) Allows(id ID) bool {
	return a.domains[id.TrustDomain()]
}

// FromCertificatePEM parses certPEM and extracts the first SPIFFE URI from
// its SAN list (spec §4.12's GetServiceIdentity operation).
func FromCertificatePEM(certPEM []byte) (ID, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return ID{}, apperrors.New(apperrors.KindCertificateInvalid, "certificate is not valid PEM")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return ID{}, apperrors.Wrap(apperrors.KindCertificateInvalid, "certificate could not be parsed", err)
	}

	for _, uri := range cert.URIs {
		if uri.Scheme != "spiffe" {
			continue
		}
		return Parse(uri.String())
	}
	return ID{}, apperrors.New(apperrors.KindCertificateInvalid, "certificate SAN contains no spiffe:// URI")
}
