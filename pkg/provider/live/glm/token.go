package glm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GenerateToken builds the signed bearer token the GLM Realtime endpoint
// expects in place of the raw API key.
//
// The API key has the form "<id>.<secret>". The token is three unpadded
// base64url segments joined by dots: a fixed header, a payload carrying the
// key id and expiry, and an HMAC-SHA256 signature of "header.payload" keyed
// with the secret. Timestamps are Unix seconds.
func GenerateToken(apiKey string, ttl time.Duration, now time.Time) (string, error) {
	id, secret, ok := strings.Cut(apiKey, ".")
	if !ok || id == "" || secret == "" {
		return "", fmt.Errorf("glm: malformed api key, want \"<id>.<secret>\"")
	}

	header, err := json.Marshal(map[string]string{
		"alg":       "HS256",
		"sign_type": "SIGN",
	})
	if err != nil {
		return "", fmt.Errorf("glm: marshal token header: %w", err)
	}

	nowSec := now.Unix()
	payload, err := json.Marshal(map[string]any{
		"api_key":   id,
		"exp":       nowSec + int64(ttl/time.Second),
		"timestamp": nowSec,
	})
	if err != nil {
		return "", fmt.Errorf("glm: marshal token payload: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(header) + "." + enc.EncodeToString(payload)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	signature := enc.EncodeToString(mac.Sum(nil))

	return signingInput + "." + signature, nil
}
