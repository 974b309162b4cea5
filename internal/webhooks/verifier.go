// Package webhooks verifies inbound webhook authenticity. Vendors sign
// deliveries with HMAC-SHA256; verification recomputes the digest and
// compares in constant time, and signed timestamps are checked against a
// replay window.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"time"

	"wearable-connector/internal/common/errors"
)

// ReplayWindow is the maximum signed-timestamp age (or future skew) a
// delivery may carry and still be accepted. Three minutes tolerates clock
// skew without leaving a useful replay window open.
const ReplayWindow = 3 * time.Minute

// Verifier checks webhook signatures. The zero value uses the real clock;
// tests override now.
type Verifier struct {
	now func() time.Time
}

// NewVerifier creates a webhook verifier
func NewVerifier() *Verifier {
	return &Verifier{now: time.Now}
}

// NewVerifierWithClock creates a verifier with a fixed clock for tests
func NewVerifierWithClock(now func() time.Time) *Verifier {
	return &Verifier{now: now}
}

// VerifyHMACSHA256 checks a hex signature computed over "timestamp.body".
// The timestamp is unix seconds and must fall within the replay window.
// Malformed input fails with WebhookError rather than a silent false.
func (v *Verifier) VerifyHMACSHA256(timestamp string, body []byte, signature, secret string) error {
	if signature == "" {
		return errors.WebhookError("missing signature")
	}
	if timestamp == "" {
		return errors.WebhookError("missing signature timestamp")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.WebhookError("malformed signature timestamp")
	}

	if err := v.checkReplayWindow(time.Unix(ts, 0)); err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return errors.WebhookError("malformed signature encoding")
	}

	if !hmac.Equal(expected, provided) {
		return errors.WebhookError("signature mismatch")
	}
	return nil
}

// VerifyBodyHMAC checks a signature computed over the body alone, for
// vendors that do not sign a timestamp. The signature may be hex or
// base64 encoded. No replay protection is possible without a signed
// timestamp; dedupe falls to the consumer's trace_id handling.
func (v *Verifier) VerifyBodyHMAC(body []byte, signature, secret string) error {
	if signature == "" {
		return errors.WebhookError("missing signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if provided, err := hex.DecodeString(signature); err == nil {
		if hmac.Equal(expected, provided) {
			return nil
		}
		return errors.WebhookError("signature mismatch")
	}

	if provided, err := base64.StdEncoding.DecodeString(signature); err == nil {
		if hmac.Equal(expected, provided) {
			return nil
		}
		return errors.WebhookError("signature mismatch")
	}

	return errors.WebhookError("malformed signature encoding")
}

// checkReplayWindow rejects timestamps outside the replay window in
// either direction
func (v *Verifier) checkReplayWindow(signedAt time.Time) error {
	age := v.now().Sub(signedAt)
	if age < 0 {
		age = -age
	}
	if age > ReplayWindow {
		return errors.WebhookError("signature timestamp outside replay window")
	}
	return nil
}

// SignHMACSHA256 computes the hex signature for "timestamp.body". Used by
// tests and outbound delivery simulation.
func SignHMACSHA256(timestamp string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignBodyHMAC computes the hex signature over the body alone
func SignBodyHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
