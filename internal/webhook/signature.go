package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/kudos/internal/apperr"
)

const (
	SignatureHeader = "X-Kudos-Signature"
	TimestampHeader = "X-Kudos-Timestamp"
	MaxSkew         = 5 * time.Minute
	MaxBodyBytes    = 64 << 10
)

var (
	ErrMissingSignature = apperr.New(apperr.CodeSecurity, "missing signature or timestamp")
	ErrBadTimestamp     = apperr.New(apperr.CodeSecurity, "malformed timestamp")
	ErrStaleTimestamp   = apperr.New(apperr.CodeSecurity, "timestamp outside the allowed window")
	ErrBadSignature     = apperr.New(apperr.CodeSecurity, "signature mismatch")
)

// ComputeSignature returns the hex HMAC-SHA256 of "{timestamp}.{body}".
func ComputeSignature(secret []byte, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the headers a sender attaches to body at time at.
func Sign(secret, body []byte, at time.Time) http.Header {
	ts := at.Unix()
	h := http.Header{}
	h.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	h.Set(SignatureHeader, ComputeSignature(secret, ts, body))
	return h
}

// Verify checks the signature and timestamp headers against body. The
// timestamp is checked first so a captured payload cannot be replayed once
// it leaves the window.
func Verify(secret []byte, signature, timestamp string, body []byte, now time.Time) error {
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew > MaxSkew || skew < -MaxSkew {
		return ErrStaleTimestamp
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	want, _ := hex.DecodeString(ComputeSignature(secret, ts, body))
	if !hmac.Equal(got, want) {
		return ErrBadSignature
	}
	return nil
}
