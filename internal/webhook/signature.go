package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSignature = errors.New("invalid_webhook_signature")

// VerifySignature checks a `t=<unix>,v1=<hex>` header where v1 is
// HMAC-SHA256 over "<t>.<body>". The timestamp binds the signature to the
// delivery window so a captured payload cannot be replayed after tolerance.
func VerifySignature(secret string, header string, body []byte, tolerance time.Duration, now time.Time) error {
	if secret == "" || header == "" {
		return ErrInvalidSignature
	}

	var ts int64
	var provided string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			ts = parsed
		case "v1":
			provided = value
		}
	}
	if ts == 0 || provided == "" {
		return ErrInvalidSignature
	}

	sent := time.Unix(ts, 0)
	age := now.Sub(sent)
	if age > tolerance || age < -tolerance {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)

	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}
