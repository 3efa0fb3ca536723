// Package secure implements the mutual-TLS secure channel for peer links.
//
// Both sides of a link present certificates signed by the deployment CA. A node
// certificate may additionally bind a network identity (urn:uuid SAN) and
// grant a capability bitfield (custom extension); both are surfaced to the
// session layer, which intersects the grant with the peer's declared set.
package secure

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/axonlab/axond/internal/certutil"
	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/logging"
	"github.com/axonlab/axond/internal/protocol"
)

// Secure channel errors.
var (
	ErrHandshakeFailed          = errors.New("secure handshake failed")
	ErrCertificateInvalid       = errors.New("certificate invalid")
	ErrCertificateExpired       = errors.New("certificate expired")
	ErrIdentityMismatch         = errors.New("network identity mismatch")
	ErrInsufficientCapabilities = errors.New("insufficient capabilities")
)

// PeerIdentity describes what a peer's certificate asserts about it.
type PeerIdentity struct {
	// NetworkID is the identity bound into the certificate SAN.
	NetworkID identity.NetworkID
	// HasID reports whether the certificate carried an identity SAN.
	HasID bool

	// Granted is the capability bitfield from the certificate extension.
	Granted protocol.Capability
	// HasGrant reports whether the certificate carried a capability grant.
	HasGrant bool

	CommonName  string
	Fingerprint string
	NotAfter    time.Time
}

// VerifyClaimedID checks a handshake-declared identity against the
// certificate binding. Certificates without an identity SAN match any claim.
func (p *PeerIdentity) VerifyClaimedID(claimed identity.NetworkID) error {
	if !p.HasID {
		return nil
	}
	if !p.NetworkID.Equal(claimed) {
		return fmt.Errorf("%w: certificate binds %s, handshake declares %s",
			ErrIdentityMismatch, p.NetworkID, claimed)
	}
	return nil
}

// EffectiveGrant returns the certificate capability grant, or the fallback
// when the certificate carries none.
func (p *PeerIdentity) EffectiveGrant(fallback protocol.Capability) protocol.Capability {
	if p.HasGrant {
		return p.Granted
	}
	return fallback
}

// Options configures the secure channel.
type Options struct {
	// CertFile and KeyFile hold the node's certificate and private key.
	CertFile string
	KeyFile  string

	// CAFile holds the CA bundle used to verify peers in both directions.
	CAFile string

	// RevocationCheck enables OCSP status checks of peer certificates.
	RevocationCheck bool

	// OCSPResponder overrides the responder URL embedded in peer certificates.
	OCSPResponder string
}

// Channel holds the TLS material shared by all listeners and outbound dials.
type Channel struct {
	cert    tls.Certificate
	leaf    *x509.Certificate
	caPool  *x509.CertPool
	caCerts []*x509.Certificate
	checker *RevocationChecker
	logger  *slog.Logger
}

// NewChannel loads and validates the node's TLS material.
func NewChannel(opts Options, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	certPEM, err := os.ReadFile(opts.CertFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	if err := certutil.ValidateECKeyPair(certPEM, keyPEM); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
	}
	if certutil.IsExpired(leaf) {
		return nil, fmt.Errorf("%w: own certificate expired %s",
			ErrCertificateExpired, leaf.NotAfter.Format(time.RFC3339))
	}

	caPEM, err := os.ReadFile(opts.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	caPool, err := certutil.CreateCertPool(caPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
	}

	var checker *RevocationChecker
	if opts.RevocationCheck {
		checker = NewRevocationChecker(opts.OCSPResponder)
	}

	c := &Channel{
		cert:    cert,
		leaf:    leaf,
		caPool:  caPool,
		caCerts: parseCABundle(caPEM),
		checker: checker,
		logger:  logger,
	}

	logger.Debug("secure channel loaded",
		logging.KeyComponent, "secure",
		"fingerprint", certutil.Fingerprint(leaf),
		"not_after", leaf.NotAfter.Format(time.RFC3339))

	return c, nil
}

// ServerTLSConfig returns the TLS configuration for listeners. Peers must
// present a certificate signed by the deployment CA.
func (c *Channel) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.cert},
		ClientCAs:    c.caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		NextProtos:   []string{protocol.ALPN},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLSConfig returns the TLS configuration for dialing serverName.
func (c *Channel) ClientTLSConfig(serverName string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.cert},
		RootCAs:      c.caPool,
		ServerName:   serverName,
		NextProtos:   []string{protocol.ALPN},
		MinVersion:   tls.VersionTLS13,
	}
}

// Leaf returns the node's own certificate.
func (c *Channel) Leaf() *x509.Certificate {
	return c.leaf
}

// VerifyPeer inspects the peer certificate after the TLS handshake. It
// extracts the certificate-bound identity and capability grant and, when
// enabled, performs an OCSP status check.
func (c *Channel) VerifyPeer(ctx context.Context, state tls.ConnectionState) (*PeerIdentity, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("%w: peer presented no certificate", ErrCertificateInvalid)
	}
	leaf := state.PeerCertificates[0]

	now := time.Now()
	if now.After(leaf.NotAfter) {
		return nil, fmt.Errorf("%w: not after %s",
			ErrCertificateExpired, leaf.NotAfter.Format(time.RFC3339))
	}
	if now.Before(leaf.NotBefore) {
		return nil, fmt.Errorf("%w: not valid before %s",
			ErrCertificateInvalid, leaf.NotBefore.Format(time.RFC3339))
	}

	pid, err := PeerFromCert(leaf)
	if err != nil {
		return nil, err
	}

	if c.checker != nil {
		issuer := c.issuerFor(state, leaf)
		if issuer == nil {
			return nil, fmt.Errorf("%w: no issuer certificate for OCSP check", ErrCertificateInvalid)
		}
		if err := c.checker.Check(ctx, leaf, issuer); err != nil {
			return nil, err
		}
	}

	return pid, nil
}

// PeerFromCert extracts the identity assertions from a certificate.
func PeerFromCert(cert *x509.Certificate) (*PeerIdentity, error) {
	pid := &PeerIdentity{
		CommonName:  cert.Subject.CommonName,
		Fingerprint: certutil.Fingerprint(cert),
		NotAfter:    cert.NotAfter,
	}

	id, ok, err := certutil.NetworkIDFromCert(cert)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
	}
	pid.NetworkID, pid.HasID = id, ok

	caps, ok, err := certutil.CapabilitiesFromCert(cert)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
	}
	pid.Granted, pid.HasGrant = caps, ok

	return pid, nil
}

// issuerFor locates the issuer of leaf, preferring the verified chain the
// TLS stack already built.
func (c *Channel) issuerFor(state tls.ConnectionState, leaf *x509.Certificate) *x509.Certificate {
	for _, chain := range state.VerifiedChains {
		if len(chain) > 1 && chain[0].Equal(leaf) {
			return chain[1]
		}
	}
	for _, ca := range c.caCerts {
		if err := leaf.CheckSignatureFrom(ca); err == nil {
			return ca
		}
	}
	return nil
}

func parseCABundle(caPEM []byte) []*x509.Certificate {
	var certs []*x509.Certificate
	rest := caPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs
}
