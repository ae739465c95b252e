package micloud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// startSentinel is the quirky prefix Xiaomi account endpoints prepend to
// JSON bodies.
const startSentinel = "&&&START&&&"

// ParseServerJSON strips the &&&START&&& sentinel when present and decodes
// the remainder as a JSON object. Numbers are kept as json.Number so
// integer fields like userId survive untruncated.
func ParseServerJSON(body []byte) (map[string]any, error) {
	body = bytes.TrimPrefix(body, []byte(startSentinel))

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var parsed map[string]any
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return parsed, nil
}

// formField is one top-level key of a form-urlencoded request body. The
// envelope is order-sensitive, so fields travel as a slice rather than a
// map.
type formField struct {
	key   string
	value any
}

// formURLEncode renders fields as an application/x-www-form-urlencoded
// body. Strings are taken verbatim, booleans and numbers in their natural
// JSON form, and nested objects/arrays as their compact canonical JSON.
// Only top-level values are percent-encoded.
func formURLEncode(fields []formField) (string, error) {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		s, err := stringifyFormValue(f.value)
		if err != nil {
			return "", fmt.Errorf("failed to encode form field %q: %w", f.key, err)
		}
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(percentEncode(s))
	}
	return b.String(), nil
}

func stringifyFormValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.RawMessage:
		return string(t), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}

// percentEncode escapes like url.QueryEscape but keeps spaces as %20, the
// encoding the signing servers expect.
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// extractCookie returns the value of the first cookie with the given name
// attached to u in the jar.
func extractCookie(jar http.CookieJar, u *url.URL, name string) (string, bool) {
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// jsonString returns m[key] when it is a non-empty JSON string.
func jsonString(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok && s != ""
}

// jsonInt64 returns m[key] when it is a JSON number representable as int64.
func jsonInt64(m map[string]any, key string) (int64, bool) {
	n, ok := m[key].(json.Number)
	if !ok {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}
