// Package auth signs and verifies WebSocket handshakes using RSA-PSS
// signatures.
//
// A client signs "timestamp_ms + method + path" with its private key and
// sends the result in three headers. The server looks up the key ID,
// checks the timestamp is fresh and verifies the signature.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Handshake headers.
const (
	HeaderKey       = "Connmux-Access-Key"
	HeaderTimestamp = "Connmux-Access-Timestamp"
	HeaderSignature = "Connmux-Access-Signature"
)

// DefaultMaxSkew is how far a handshake timestamp may drift from the
// server clock.
const DefaultMaxSkew = 30 * time.Second

var (
	ErrMissingHeaders = errors.New("missing auth headers")
	ErrUnknownKey     = errors.New("unknown key id")
	ErrStale          = errors.New("timestamp outside allowed skew")
	ErrBadSignature   = errors.New("signature verification failed")
)

// Credentials holds the key ID and private key for signing handshakes.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}

	// Try PKCS#8 first (newer format)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	// Fall back to PKCS#1 (older format)
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// LoadPublicKey loads an RSA public key from a PEM file in PKIX or PKCS#1 form.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA public key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return rsaKey, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	return block, nil
}

// SignHandshake returns the headers authenticating a GET upgrade of path.
func (c *Credentials) SignHandshake(path string) (http.Header, error) {
	return c.sign(time.Now().UnixMilli(), http.MethodGet, path)
}

func (c *Credentials) sign(timestampMs int64, method, path string) (http.Header, error) {
	hashed := digest(timestampMs, method, path)

	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	h := http.Header{}
	h.Set(HeaderKey, c.KeyID)
	h.Set(HeaderTimestamp, strconv.FormatInt(timestampMs, 10))
	h.Set(HeaderSignature, base64.StdEncoding.EncodeToString(signature))
	return h, nil
}

// Message format: timestamp_ms + method + path
func digest(timestampMs int64, method, path string) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%d%s%s", timestampMs, method, path)))
}

// Verifier checks signed handshakes against a set of public keys.
type Verifier struct {
	keys    map[string]*rsa.PublicKey
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier creates a Verifier. A non-positive maxSkew uses DefaultMaxSkew.
func NewVerifier(keys map[string]*rsa.PublicKey, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Verifier{keys: keys, maxSkew: maxSkew, now: time.Now}
}

// LoadVerifier loads one PEM public key per key ID.
func LoadVerifier(keyPaths map[string]string, maxSkew time.Duration) (*Verifier, error) {
	keys := make(map[string]*rsa.PublicKey, len(keyPaths))
	for id, path := range keyPaths {
		key, err := LoadPublicKey(path)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", id, err)
		}
		keys[id] = key
	}
	return NewVerifier(keys, maxSkew), nil
}

// Verify authenticates r and returns the key ID that signed it.
func (v *Verifier) Verify(r *http.Request) (string, error) {
	keyID := r.Header.Get(HeaderKey)
	ts := r.Header.Get(HeaderTimestamp)
	sig := r.Header.Get(HeaderSignature)
	if keyID == "" || ts == "" || sig == "" {
		return "", ErrMissingHeaders
	}

	key, ok := v.keys[keyID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}

	timestampMs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad timestamp %q", ErrStale, ts)
	}
	skew := v.now().Sub(time.UnixMilli(timestampMs))
	if skew < -v.maxSkew || skew > v.maxSkew {
		return "", fmt.Errorf("%w: %v", ErrStale, skew)
	}

	signature, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadSignature, err)
	}

	hashed := digest(timestampMs, r.Method, r.URL.Path)
	err = rsa.VerifyPSS(key, crypto.SHA256, hashed[:], signature,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadSignature, err)
	}

	return keyID, nil
}
