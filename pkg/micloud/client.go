// Package micloud implements the Mi Cloud protocol client: the multi-step
// account login with its CAPTCHA and two-factor sub-flows, and the signed
// RPC pipeline used to list and control devices through the per-region
// device APIs.
package micloud

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRegion = "cn"
	locale        = "en"

	// agentSuffixLen is the length of the random [A-F] block baked into
	// the user agent at construction time.
	agentSuffixLen = 13
)

// CaptchaHandler receives the full CAPTCHA image URL; the driver is
// expected to show it and eventually call CaptchaSolve or CaptchaCancel.
type CaptchaHandler func(url string)

// TwoFactorHandler receives the 2FA channel flag ("8" means email, any
// other value phone) and the error message of the previous attempt, empty
// on the first prompt. The driver answers through TwoFactorSolve or
// TwoFactorCancel.
type TwoFactorHandler func(flag, lastError string)

// Client is the Mi Cloud session facade. A Client is safe for concurrent
// use; session state mutations are serialized internally.
type Client struct {
	mu sync.Mutex

	urls   URLConfig
	region string

	username     string
	passwordMD5  string
	ssecurity    string
	userID       string
	serviceToken string

	userAgent string
	clientID  string

	httpTimeout time.Duration

	captchaHandler   CaptchaHandler
	twoFactorHandler TwoFactorHandler
	captcha          challenge[string]
	twoFactor        challenge[string]
}

// New creates a client with production endpoints. The client identity
// (clientID and the user-agent suffix) is chosen once here and is immutable
// for the lifetime of the client.
func New() *Client {
	suffix := make([]byte, agentSuffixLen)
	for i := range suffix {
		suffix[i] = "ABCDEF"[rand.IntN(6)]
	}

	// Another known deviceId shape is "wb_<uuidv4>", likely "web browser".
	clientID := "android_" + uuid.NewString()

	return &Client{
		urls:   DefaultURLConfig(),
		region: defaultRegion,
		userAgent: fmt.Sprintf(
			"Android-7.1.1-1.0.0-ONEPLUS A3010-136-%s APP/xiaomi.smarthome APPV/62830",
			suffix,
		),
		clientID:    clientID,
		httpTimeout: 30 * time.Second,
	}
}

// SetRegion selects the region used for device RPCs. Unknown tags are
// silently ignored.
func (c *Client) SetRegion(tag string) {
	if !RegionSupported(tag) {
		return
	}
	c.mu.Lock()
	c.region = tag
	c.mu.Unlock()
}

// Region returns the currently selected region tag.
func (c *Client) Region() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region
}

// LoggedIn reports whether a login has completed on this client.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serviceToken != ""
}

// UserID returns the numeric account id as a string, empty before login.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// SetHTTPTimeout bounds every HTTP request the client issues, both during
// login and on RPCs. Non-positive values are ignored.
func (c *Client) SetHTTPTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.httpTimeout = d
	c.mu.Unlock()
}

// OverrideURLs replaces every endpoint the client talks to. Intended for
// tests running against stub servers.
func (c *Client) OverrideURLs(urls URLConfig) {
	c.mu.Lock()
	c.urls = urls
	c.mu.Unlock()
}

// SetCaptchaHandler installs the driver callback for CAPTCHA prompts. With
// no handler installed a CAPTCHA demand bubbles up as the original server
// error.
func (c *Client) SetCaptchaHandler(h CaptchaHandler) {
	c.mu.Lock()
	c.captchaHandler = h
	c.mu.Unlock()
}

// SetTwoFactorHandler installs the driver callback for 2FA prompts.
func (c *Client) SetTwoFactorHandler(h TwoFactorHandler) {
	c.mu.Lock()
	c.twoFactorHandler = h
	c.mu.Unlock()
}

// CaptchaSolve delivers a CAPTCHA answer to the waiting login flow. No-op
// when no CAPTCHA is pending.
func (c *Client) CaptchaSolve(code string) {
	c.captcha.solve(code)
}

// CaptchaCancel abandons the pending CAPTCHA prompt, if any.
func (c *Client) CaptchaCancel() {
	c.captcha.cancel()
}

// TwoFactorSolve delivers a 2FA ticket code to the waiting login flow.
// No-op when no challenge is pending.
func (c *Client) TwoFactorSolve(code string) {
	c.twoFactor.solve(code)
}

// TwoFactorCancel abandons the pending 2FA prompt, if any.
func (c *Client) TwoFactorCancel() {
	c.twoFactor.cancel()
}

// snapshot returns a consistent copy of the session fields an RPC needs.
func (c *Client) snapshot() (urls URLConfig, region, ssecurity, userID, serviceToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.urls, c.region, c.ssecurity, c.userID, c.serviceToken
}

// newHTTPClient returns the plain client used for RPCs. It carries no jar:
// the RPC pipeline assembles its Cookie header explicitly.
func (c *Client) newHTTPClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &http.Client{Timeout: c.httpTimeout}
}
