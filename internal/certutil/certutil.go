// Package certutil mints and inspects the ECDSA certificates that bind
// a node's network identity and capability grant into the TLS layer.
//
// Identity travels as a urn:uuid URI SAN; the capability grant travels
// as a private extension holding a big-endian 32-bit mask. Both are
// read back during the handshake, so a certificate is the single
// artifact that says who a node is and what it may do.
package certutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/protocol"
)

// CapabilityOID identifies the private extension that carries a node's
// capability grant. The value is always exactly four bytes.
var CapabilityOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}

// certOrganization is stamped into every minted subject.
const certOrganization = "AxonLab"

// notBeforeSkew backdates minted certificates so peers with slightly
// trailing clocks accept them immediately.
const notBeforeSkew = 5 * time.Minute

// GeneratedCert bundles a certificate with its private key in both
// parsed and PEM form.
type GeneratedCert struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	CertPEM     []byte
	KeyPEM      []byte
}

// Fingerprint returns the sha256 fingerprint of the certificate.
func (gc *GeneratedCert) Fingerprint() string {
	return Fingerprint(gc.Certificate)
}

// TLSCertificate converts the pair into a tls.Certificate.
func (gc *GeneratedCert) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(gc.CertPEM, gc.KeyPEM)
}

// SaveToFiles writes the certificate world-readable and the key
// owner-only, creating parent directories as needed.
func (gc *GeneratedCert) SaveToFiles(certPath, keyPath string) error {
	for _, p := range []string{certPath, keyPath} {
		if dir := filepath.Dir(p); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
	}
	if err := os.WriteFile(certPath, gc.CertPEM, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, gc.KeyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

// GenerateCA mints a self-signed signing certificate. The CA only ever
// signs node certificates directly, never intermediates.
func GenerateCA(commonName string, validFor time.Duration) (*GeneratedCert, error) {
	tmpl := newTemplate(commonName, validFor)
	tmpl.IsCA = true
	tmpl.MaxPathLenZero = true
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	return mint(tmpl, nil)
}

// GenerateNodeCert mints a certificate for a single node, signed by ca.
// A non-zero id is bound as a urn:uuid SAN. The capability extension is
// always present, so caps of zero is an explicit deny-all grant rather
// than a missing one.
func GenerateNodeCert(id identity.NetworkID, commonName string, caps protocol.Capability, validFor time.Duration, ca *GeneratedCert) (*GeneratedCert, error) {
	if ca == nil || ca.Certificate == nil || ca.PrivateKey == nil {
		return nil, errors.New("node certificates require a signing CA")
	}

	tmpl := newTemplate(commonName, validFor)
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	tmpl.DNSNames = []string{commonName, "localhost"}
	tmpl.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}

	if !id.IsZero() {
		u, err := url.Parse(id.URN())
		if err != nil {
			return nil, fmt.Errorf("failed to build identity SAN: %w", err)
		}
		tmpl.URIs = []*url.URL{u}
	}
	tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, CapabilityExtension(caps))

	return mint(tmpl, ca)
}

// newTemplate fills the fields every minted certificate shares.
func newTemplate(commonName string, validFor time.Duration) *x509.Certificate {
	now := time.Now()
	return &x509.Certificate{
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{certOrganization},
		},
		NotBefore:             now.Add(-notBeforeSkew),
		NotAfter:              now.Add(validFor),
		BasicConstraintsValid: true,
	}
}

// mint generates a fresh P-256 key, signs the template and returns the
// bundle with PEM encodings. A nil signer self-signs.
func mint(tmpl *x509.Certificate, signer *GeneratedCert) (*GeneratedCert, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	tmpl.SerialNumber = serial

	parent, signKey := tmpl, key
	if signer != nil {
		parent, signKey = signer.Certificate, signer.PrivateKey
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signed certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	return &GeneratedCert{
		Certificate: cert,
		PrivateKey:  key,
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

// CapabilityExtension encodes caps as the capability grant extension.
func CapabilityExtension(caps protocol.Capability) pkix.Extension {
	value := make([]byte, 4)
	binary.BigEndian.PutUint32(value, uint32(caps))
	return pkix.Extension{Id: CapabilityOID, Value: value}
}

// CapabilitiesFromCert extracts the capability grant from a certificate.
// The second return value reports whether the extension is present.
func CapabilitiesFromCert(cert *x509.Certificate) (protocol.Capability, bool, error) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(CapabilityOID) {
			continue
		}
		if len(ext.Value) != 4 {
			return 0, true, fmt.Errorf("capability extension has %d bytes, want 4", len(ext.Value))
		}
		return protocol.Capability(binary.BigEndian.Uint32(ext.Value)), true, nil
	}
	return 0, false, nil
}

// NetworkIDFromCert extracts the network identity from a certificate's
// urn:uuid URI SAN. The second return value reports whether a SAN was found.
func NetworkIDFromCert(cert *x509.Certificate) (identity.NetworkID, bool, error) {
	for _, u := range cert.URIs {
		if u.Scheme != "urn" || !strings.HasPrefix(u.Opaque, "uuid:") {
			continue
		}
		id, err := identity.ParseNetworkID(u.String())
		if err != nil {
			return identity.ZeroID, true, fmt.Errorf("malformed identity SAN %q: %w", u.String(), err)
		}
		return id, true, nil
	}
	return identity.ZeroID, false, nil
}

// LoadCert reads a certificate and key pair from disk.
func LoadCert(certPath, keyPath string) (*GeneratedCert, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return ParseCert(certPEM, keyPEM)
}

// ParseCert assembles a GeneratedCert from PEM encodings. The key may
// be SEC 1 ("EC PRIVATE KEY") or PKCS#8 ("PRIVATE KEY").
func ParseCert(certPEM, keyPEM []byte) (*GeneratedCert, error) {
	cert, err := decodeCert(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := decodeKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return &GeneratedCert{
		Certificate: cert,
		PrivateKey:  key,
		CertPEM:     certPEM,
		KeyPEM:      keyPEM,
	}, nil
}

func decodeCert(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

func decodeKey(keyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		ec, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%T keys are not supported, use EC (ECDSA) keys", key)
		}
		return ec, nil
	case "RSA PRIVATE KEY":
		return nil, errors.New("RSA keys are not supported, use EC (ECDSA) keys")
	default:
		return nil, fmt.Errorf("unsupported private key type: %s", block.Type)
	}
}

// ValidateECKeyPair rejects certificate or key material that is not
// ECDSA, with a pointed error instead of a late TLS handshake failure.
func ValidateECKeyPair(certPEM, keyPEM []byte) error {
	cert, err := decodeCert(certPEM)
	if err != nil {
		return fmt.Errorf("certificate: %w", err)
	}
	if cert.PublicKeyAlgorithm != x509.ECDSA {
		return fmt.Errorf("certificate: %v certificates are not supported, use EC (ECDSA) certificates", cert.PublicKeyAlgorithm)
	}
	if _, err := decodeKey(keyPEM); err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	return nil
}

// Fingerprint returns the sha256 fingerprint of a certificate's raw
// DER, prefixed with the digest name so stored pins stay unambiguous.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// IsExpired reports whether the certificate is past its NotAfter.
func IsExpired(cert *x509.Certificate) bool {
	return time.Now().After(cert.NotAfter)
}

// CreateCertPool builds a certificate pool from PEM bundles.
func CreateCertPool(certPEMs ...[]byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, certPEM := range certPEMs {
		if !pool.AppendCertsFromPEM(certPEM) {
			return nil, errors.New("failed to add certificate to pool")
		}
	}
	return pool, nil
}

// CertInfo is the display form of a certificate, used by the CLI and
// connectivity probes.
type CertInfo struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	Fingerprint  string
	IsCA         bool
	DNSNames     []string
	NetworkID    string
	Capabilities []string
	OCSPServers  []string
}

// GetCertInfo extracts display information from a certificate. A
// malformed identity SAN or capability extension is shown as absent
// rather than failing the whole inspection.
func GetCertInfo(cert *x509.Certificate) CertInfo {
	info := CertInfo{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.Text(16),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		Fingerprint:  Fingerprint(cert),
		IsCA:         cert.IsCA,
		DNSNames:     cert.DNSNames,
		OCSPServers:  cert.OCSPServer,
	}
	if id, ok, err := NetworkIDFromCert(cert); ok && err == nil {
		info.NetworkID = id.String()
	}
	if caps, ok, err := CapabilitiesFromCert(cert); ok && err == nil {
		info.Capabilities = caps.Names()
	}
	return info
}

// GetCertInfoFromFile extracts display information from a certificate file.
func GetCertInfoFromFile(certPath string) (*CertInfo, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	cert, err := decodeCert(certPEM)
	if err != nil {
		return nil, err
	}
	info := GetCertInfo(cert)
	return &info, nil
}
