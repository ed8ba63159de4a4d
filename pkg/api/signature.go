package api

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	maxCachedCerts = 16
	certCacheTTL   = time.Hour
)

// snsHost matches the regional SNS endpoints. They serve the signing
// certificates and the subscription confirmation.
var snsHost = regexp.MustCompile(`^sns\.[a-z0-9-]+\.amazonaws\.com(\.cn)?$`)

func isSNSHost(host string) bool {
	return snsHost.MatchString(host)
}

var errInvalidSignature = errors.New("invalid SNS message signature")

type certFetcher func(ctx context.Context, certURL string) (*x509.Certificate, error)

// signatureVerifier checks SNS message signatures against the certificate
// named by SigningCertURL.
type signatureVerifier struct {
	// certHost reports whether a SigningCertURL host may be contacted
	certHost func(host string) bool
	fetch    certFetcher
	certs    *expirable.LRU[string, *x509.Certificate]
	now      func() time.Time
}

func newSignatureVerifier(fetch certFetcher) *signatureVerifier {
	return &signatureVerifier{
		certHost: isSNSHost,
		fetch:    fetch,
		certs:    expirable.NewLRU[string, *x509.Certificate](maxCachedCerts, nil, certCacheTTL),
		now:      time.Now,
	}
}

func (v *signatureVerifier) verify(ctx context.Context, msg snsMessage) error {
	var alg x509.SignatureAlgorithm
	switch msg.SignatureVersion {
	case "1":
		alg = x509.SHA1WithRSA
	case "2":
		alg = x509.SHA256WithRSA
	default:
		return fmt.Errorf("%w: unsupported signature version %q", errInvalidSignature, msg.SignatureVersion)
	}
	sig, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil || len(sig) == 0 {
		return fmt.Errorf("%w: signature is not base64", errInvalidSignature)
	}

	cert, err := v.certificate(ctx, msg.SigningCertURL)
	if err != nil {
		return err
	}
	if err := cert.CheckSignature(alg, stringToSign(msg), sig); err != nil {
		return fmt.Errorf("%w: %v", errInvalidSignature, err)
	}
	return nil
}

func (v *signatureVerifier) certificate(ctx context.Context, certURL string) (*x509.Certificate, error) {
	u, err := url.Parse(certURL)
	if err != nil || u.Scheme != "https" || !v.certHost(u.Hostname()) || !strings.HasSuffix(u.Path, ".pem") {
		return nil, fmt.Errorf("%w: refusing signing certificate URL %q", errInvalidSignature, certURL)
	}
	if cert, ok := v.certs.Get(certURL); ok {
		return cert, nil
	}

	cert, err := v.fetch(ctx, certURL)
	if err != nil {
		return nil, err
	}
	if now := v.now(); now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, fmt.Errorf("%w: signing certificate expired or not yet valid", errInvalidSignature)
	}
	v.certs.Add(certURL, cert)
	return cert, nil
}

// stringToSign builds the canonical "Key\nValue\n" form SNS signs. Subject is
// only part of a notification, and only when present.
func stringToSign(msg snsMessage) []byte {
	var b strings.Builder
	add := func(key, value string) {
		b.WriteString(key)
		b.WriteByte('\n')
		b.WriteString(value)
		b.WriteByte('\n')
	}

	add("Message", msg.Message)
	add("MessageId", msg.MessageID)
	if msg.Type == snsNotification {
		if msg.Subject != "" {
			add("Subject", msg.Subject)
		}
		add("Timestamp", msg.Timestamp)
	} else {
		add("SubscribeURL", msg.SubscribeURL)
		add("Timestamp", msg.Timestamp)
		add("Token", msg.Token)
	}
	add("TopicArn", msg.TopicArn)
	add("Type", msg.Type)
	return []byte(b.String())
}

func (e *snsEndpoint) fetchCertificate(ctx context.Context, certURL string) (*x509.Certificate, error) {
	resp, err := e.http.R().SetContext(ctx).Get(certURL)
	if err != nil {
		return nil, fmt.Errorf("fetching signing certificate: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching signing certificate: HTTP %d", resp.StatusCode())
	}
	block, _ := pem.Decode(resp.Body())
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: signing certificate is not PEM encoded", errInvalidSignature)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidSignature, err)
	}
	return cert, nil
}
