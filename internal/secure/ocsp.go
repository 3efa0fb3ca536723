package secure

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"
)

const (
	ocspRequestTimeout  = 10 * time.Second
	ocspMaxResponseSize = 1 << 20
)

// RevocationChecker queries an OCSP responder for certificate status.
// Checks fail closed: a missing responder, an unreachable responder, and
// an indeterminate answer are all errors.
type RevocationChecker struct {
	// responder overrides the URL embedded in certificates when set.
	responder string
	client    *http.Client
}

// NewRevocationChecker creates a checker. An empty responder URL means the
// responder is taken from each certificate's authority information access.
func NewRevocationChecker(responder string) *RevocationChecker {
	return &RevocationChecker{
		responder: responder,
		client:    &http.Client{Timeout: ocspRequestTimeout},
	}
}

// Check queries the responder for the certificate's revocation status.
func (r *RevocationChecker) Check(ctx context.Context, cert, issuer *x509.Certificate) error {
	url := r.responder
	if url == "" && len(cert.OCSPServer) > 0 {
		url = cert.OCSPServer[0]
	}
	if url == "" {
		return fmt.Errorf("%w: no OCSP responder for %s", ErrCertificateInvalid, cert.Subject.CommonName)
	}

	der, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return fmt.Errorf("%w: build OCSP request: %v", ErrCertificateInvalid, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(der))
	if err != nil {
		return fmt.Errorf("ocsp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("ocsp query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ocsp responder %s returned %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, ocspMaxResponseSize))
	if err != nil {
		return fmt.Errorf("read ocsp response: %w", err)
	}

	parsed, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return fmt.Errorf("%w: parse OCSP response: %v", ErrCertificateInvalid, err)
	}

	switch parsed.Status {
	case ocsp.Good:
		return nil
	case ocsp.Revoked:
		return fmt.Errorf("%w: certificate revoked at %s",
			ErrCertificateInvalid, parsed.RevokedAt.Format(time.RFC3339))
	default:
		return fmt.Errorf("%w: OCSP status unknown for %s", ErrCertificateInvalid, cert.Subject.CommonName)
	}
}
