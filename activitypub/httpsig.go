package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
)

var (
	getSignedHeaders  = []string{httpsig.RequestTarget, "host", "date"}
	postSignedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}
)

// SignRequest signs an outgoing HTTP request with the given private key.
// A non-nil body adds and signs a SHA-256 Digest header.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	headers := getSignedHeaders
	if body != nil {
		headers = postSignedHeaders
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		headers,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, body)
}

// parseSignature extracts the signature parameters from an inbound request.
func parseSignature(req *http.Request) (httpsig.Verifier, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signature: %w", err)
	}
	return verifier, nil
}

// verifySignature checks a parsed signature against a PEM encoded public key.
func verifySignature(verifier httpsig.Verifier, publicKeyPem string) error {
	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return err
	}
	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// verifyDigest compares a "SHA-256=<base64>" Digest header with body.
func verifyDigest(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("missing digest")
	}
	for _, part := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		sum := sha256.Sum256(body)
		if value != base64.StdEncoding.EncodeToString(sum[:]) {
			return fmt.Errorf("digest mismatch")
		}
		return nil
	}
	return fmt.Errorf("no supported digest algorithm in %q", header)
}

// signedHeaders returns the lowercased names listed in the headers parameter
// of the request signature. Without the parameter only date is signed.
func signedHeaders(req *http.Request) []string {
	value := req.Header.Get("Signature")
	if value == "" {
		value = strings.TrimPrefix(req.Header.Get("Authorization"), "Signature ")
	}
	for _, param := range strings.Split(value, ",") {
		name, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && strings.EqualFold(name, "headers") {
			return strings.Fields(strings.ToLower(strings.Trim(v, `"`)))
		}
	}
	return []string{"date"}
}

// checkSignedHeaders requires the signature of req to cover the headers we
// sign ourselves, including digest when withBody is set.
func checkSignedHeaders(req *http.Request, withBody bool) error {
	required := getSignedHeaders
	if withBody {
		required = postSignedHeaders
	}
	signed := signedHeaders(req)
	for _, name := range required {
		if !slices.Contains(signed, name) {
			return fmt.Errorf("%s is not signed", name)
		}
	}
	return nil
}

// checkDate rejects a Date header further than maxSkew from now.
func checkDate(header string, now time.Time, maxSkew time.Duration) error {
	if header == "" {
		return fmt.Errorf("missing date")
	}
	date, err := http.ParseTime(header)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", header, err)
	}
	if skew := now.Sub(date); skew > maxSkew || skew < -maxSkew {
		return fmt.Errorf("date %s is out of range", header)
	}
	return nil
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaKey, nil
}

// ParsePublicKey converts PEM string to *rsa.PublicKey. Both PKIX and PKCS#1
// encodings are accepted since remote servers publish either.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
