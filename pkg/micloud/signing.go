package micloud

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// GenerateNonce returns a fresh request nonce: 8 random bytes followed by
// the current minute counter (unix seconds / 60) as a big-endian signed
// 32-bit integer, base64-encoded. The coarse timestamp is part of the wire
// contract; the server tolerates small clock skew but expects minutes.
func GenerateNonce() (string, error) {
	return generateNonceAt(time.Now())
}

func generateNonceAt(now time.Time) (string, error) {
	var buf [12]byte
	if _, err := rand.Read(buf[:8]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	minutes := int32(now.Unix() / 60)
	binary.BigEndian.PutUint32(buf[8:], uint32(minutes))
	return base64.StdEncoding.EncodeToString(buf[:]), nil
}

// SignedNonce derives the per-request HMAC key material:
// base64(SHA-256(base64decode(ssecurity) || base64decode(nonce))).
func SignedNonce(ssecurity, nonce string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(ssecurity)
	if err != nil {
		return "", fmt.Errorf("%w: ssecurity is not valid base64: %v", ErrMalformedSecret, err)
	}
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", fmt.Errorf("%w: nonce is not valid base64: %v", ErrMalformedSecret, err)
	}

	h := sha256.New()
	h.Write(secret)
	h.Write(n)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// GenerateSignature computes the request signature over the canonical form
// of params: the token list [path, signedNonce, nonce] followed by
// "key=<compact JSON>" for every params key in ascending order, joined with
// "&" and MACed with HMAC-SHA-256 under base64decode(signedNonce).
//
// encoding/json sorts object keys when marshalling maps, which is exactly
// the canonical serialization the server verifies against.
func GenerateSignature(path, signedNonce, nonce string, params map[string]any) (string, error) {
	tokens := []string{path, signedNonce, nonce}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		encoded, err := json.Marshal(params[k])
		if err != nil {
			return "", fmt.Errorf("failed to encode signature param %q: %w", k, err)
		}
		tokens = append(tokens, k+"="+string(encoded))
	}

	key, err := base64.StdEncoding.DecodeString(signedNonce)
	if err != nil {
		return "", fmt.Errorf("%w: signed nonce is not valid base64: %v", ErrMalformedSecret, err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strings.Join(tokens, "&")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
