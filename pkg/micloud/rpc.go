package micloud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/marmos91/micloud/internal/logger"
)

type rpcError struct {
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// request signs and posts one RPC against the region's device API and
// returns the raw result. fallbackMsg is used when the server rejects the
// call without an error message of its own.
func (c *Client) request(path string, data any, region, fallbackMsg string) (json.RawMessage, error) {
	urls, sessionRegion, ssecurity, userID, serviceToken := c.snapshot()
	if region == "" {
		region = sessionRegion
	}

	if serviceToken == "" {
		return nil, ErrNotAuthenticated
	}
	if !RegionSupported(region) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRegion, region)
	}

	// Canonical compact JSON of the payload is shared between the
	// signature input and the envelope, so the server verifies the exact
	// bytes it received.
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request data: %w", err)
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}
	signedNonce, err := SignedNonce(ssecurity, nonce)
	if err != nil {
		return nil, err
	}
	signature, err := GenerateSignature(path, signedNonce, nonce, map[string]any{
		"data": json.RawMessage(dataJSON),
	})
	if err != nil {
		return nil, err
	}

	body, err := formURLEncode([]formField{
		{key: "_nonce", value: nonce},
		{key: "data", value: json.RawMessage(dataJSON)},
		{key: "signature", value: signature},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, urls.apiBase(region)+path, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("x-xiaomi-protocal-flag-cli", "PROTOCAL-HTTP2")
	req.Header.Set("mishop-client-id", "180100041079")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", c.cookieHeader(userID, serviceToken))

	logger.Debug("rpc request", "path", path, "region", region)

	resp, err := c.newHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrTransport, err)
	}
	if !is2xx(resp.StatusCode) {
		return nil, statusError("rpc "+path, resp.StatusCode)
	}

	respBody = bytes.TrimPrefix(respBody, []byte(startSentinel))
	var parsed rpcResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if len(parsed.Result) > 0 && !bytes.Equal(parsed.Result, []byte("null")) {
		return parsed.Result, nil
	}

	message := fallbackMsg
	if parsed.Error != nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}
	logger.Warn("rpc rejected", "path", path, "message", message)
	return nil, &ServerError{Message: message}
}

// cookieHeader assembles the fixed session cookie line attached to every
// RPC.
func (c *Client) cookieHeader(userID, serviceToken string) string {
	cookies := []string{
		"sdkVersion=accountsdk-18.8.15",
		"deviceId=" + c.clientID,
		"userId=" + userID,
		"serviceToken=" + serviceToken,
		"yetAnotherServiceToken=" + serviceToken,
		"locale=" + locale,
		"channel=MI_APP_STORE",
	}
	return strings.Join(cookies, "; ")
}
