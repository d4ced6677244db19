package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-QRHook-Signature" // sha256=<hex>
	TimestampHeader = "X-QRHook-Timestamp" // unix seconds
	EventHeader     = "X-QRHook-Event"
	DeliveryHeader  = "X-QRHook-Delivery"

	secretPrefix = "whsec_"
	secretBytes  = 32

	// DefaultTolerance is how far a receiver should accept a timestamp from its own clock.
	DefaultTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature  = errors.New("missing signature headers")
	ErrInvalidTimestamp  = errors.New("invalid signature timestamp")
	ErrTimestampExpired  = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// GenerateSecret returns a new signing secret backed by 32 random bytes.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return secretPrefix + hex.EncodeToString(b), nil
}

// Sign returns the lowercase hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature (optionally prefixed with "sha256=") is the
// HMAC of body under secret. The comparison is constant time.
func Verify(secret string, body []byte, signature string) bool {
	got := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	want := Sign(secret, body)
	return hmac.Equal([]byte(got), []byte(want))
}

// VerifyRequest checks the signature and timestamp headers of a received
// webhook. Receivers use it to reject tampered bodies and stale replays.
func VerifyRequest(secret string, body []byte, signature, timestamp string, now time.Time, tolerance time.Duration) error {
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return ErrTimestampExpired
	}
	if !Verify(secret, body, signature) {
		return ErrSignatureMismatch
	}
	return nil
}
