package micloud

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/micloud/internal/logger"
)

// Two-factor channel flags as reported by identity/list.
const (
	flagPhone = 4
	flagEmail = 8
)

// stsScanWindow bounds the body scan for the STS URL when no quote
// terminates it. Brittle, but matches production traces.
const stsScanWindow = 300

const incorrectCodeMessage = "Incorrect code. Please try again."

type twoFactorResult struct {
	ssecurity    string
	userID       int64
	serviceToken string
}

// handleTwoFactor runs the interactive two-factor flow triggered when the
// credential exchange returns a notificationUrl. It requests a ticket on
// the account's verification channel, collects codes from the driver until
// one verifies, then follows the redirect chain that yields ssecurity (from
// the extension-pragma header) and the final serviceToken/userId cookies.
func (c *Client) handleTwoFactor(sess *loginSession, urls URLConfig, notificationURL string) (*twoFactorResult, error) {
	// Visiting the notification URL initializes the identity session
	// cookies.
	if _, _, err := sess.get(notificationURL, nil, true); err != nil {
		return nil, fmt.Errorf("two-factor: %w", err)
	}

	parsed, err := url.Parse(notificationURL)
	if err != nil {
		return nil, fmt.Errorf("%w: two-factor: invalid notification URL: %v", ErrProtocol, err)
	}
	context := parsed.Query().Get("context")
	if context == "" {
		return nil, fmt.Errorf("%w: two-factor: no context parameter in notification URL", ErrProtocol)
	}

	flag, err := c.fetchIdentityFlag(sess, urls, context, notificationURL)
	if err != nil {
		return nil, err
	}

	if err := c.sendTicket(sess, urls, flag); err != nil {
		return nil, err
	}

	c.mu.Lock()
	handler := c.twoFactorHandler
	c.mu.Unlock()
	if handler == nil {
		return nil, ErrTwoFactorUnsupported
	}

	lastError := ""
	for {
		code, err := c.twoFactor.requestSolve(func() {
			handler(strconv.FormatInt(flag, 10), lastError)
		})
		if err != nil {
			if errors.Is(err, errChallengeCancelled) {
				return nil, ErrTwoFactorCancelled
			}
			return nil, err
		}

		resp, body, verifyCode, err := c.verifyTicket(sess, urls, flag, code)
		if err != nil {
			return nil, err
		}

		switch verifyCode {
		case 0:
			return c.finishTwoFactor(sess, urls, context, resp, body)
		case 70014:
			logger.Debug("two-factor code rejected, prompting again")
			lastError = incorrectCodeMessage
		default:
			return nil, fmt.Errorf("%w: server code %d: %s", ErrTwoFactorRejected, verifyCode, body)
		}
	}
}

// fetchIdentityFlag reads the available verification channels for the
// pending context and returns the server-selected flag.
func (c *Client) fetchIdentityFlag(sess *loginSession, urls URLConfig, context, notificationURL string) (int64, error) {
	resp, body, err := sess.get(urls.AccountBase+"/identity/list", url.Values{
		"sid":           {"xiaomiio"},
		"context":       {context},
		"supportedMask": {"0"},
	}, true)
	if err != nil {
		return 0, fmt.Errorf("two-factor: identity list: %w", err)
	}
	if !is2xx(resp.StatusCode) {
		return 0, statusError("two-factor identity list", resp.StatusCode)
	}

	list, err := ParseServerJSON(body)
	if err != nil {
		return 0, fmt.Errorf("two-factor: identity list: %w", err)
	}

	options, ok := list["options"].([]any)
	if !ok {
		return 0, fmt.Errorf("%w: two-factor: no options array in identity list", ErrProtocol)
	}
	if len(options) == 0 {
		return 0, fmt.Errorf("%w: visit %s to set one up", ErrAccountNotConfigured, notificationURL)
	}

	flag, ok := jsonInt64(list, "flag")
	if !ok {
		return 0, fmt.Errorf("%w: two-factor: no flag in identity list", ErrProtocol)
	}
	return flag, nil
}

// sendTicket asks the account system to deliver a verification code on the
// channel selected by flag.
func (c *Client) sendTicket(sess *loginSession, urls URLConfig, flag int64) error {
	endpoint := "/identity/auth/sendEmailTicket"
	if flag == flagPhone {
		endpoint = "/identity/auth/sendPhoneTicket"
	}

	resp, body, err := sess.postForm(urls.AccountBase+endpoint,
		url.Values{"_dc": {nowMillis()}},
		url.Values{"retry": {"0"}, "icode": {""}, "_json": {"true"}},
	)
	if err != nil {
		return fmt.Errorf("two-factor: send ticket: %w", err)
	}
	if !is2xx(resp.StatusCode) {
		return statusError("two-factor send ticket", resp.StatusCode)
	}

	data, err := ParseServerJSON(body)
	if err != nil {
		return fmt.Errorf("two-factor: send ticket: %w", err)
	}
	if code, _ := jsonInt64(data, "code"); code != 0 {
		return fmt.Errorf("%w: server code %d: %s", ErrTwoFactorSendFailed, code, body)
	}

	logger.Debug("two-factor ticket sent", "flag", flag)
	return nil
}

// verifyTicket submits a user-provided code and returns the response along
// with the server's verification code.
func (c *Client) verifyTicket(sess *loginSession, urls URLConfig, flag int64, ticket string) (*http.Response, []byte, int64, error) {
	endpoint := "/identity/auth/verifyEmail"
	if flag == flagPhone {
		endpoint = "/identity/auth/verifyPhone"
	}

	resp, body, err := sess.postForm(urls.AccountBase+endpoint,
		url.Values{"_dc": {nowMillis()}},
		url.Values{
			"_flag":  {strconv.FormatInt(flag, 10)},
			"ticket": {ticket},
			"trust":  {"false"},
			"_json":  {"true"},
		},
	)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("two-factor: verify: %w", err)
	}
	if !is2xx(resp.StatusCode) {
		return nil, nil, 0, statusError("two-factor verify", resp.StatusCode)
	}

	data, err := ParseServerJSON(body)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("two-factor: verify: %w", err)
	}
	code, _ := jsonInt64(data, "code")
	return resp, body, code, nil
}

// finishTwoFactor follows the post-verification redirect chain. The next
// URL is probed in the order seen in production traces: JSON location
// field, Location header, result/check regex over the body, and finally a
// direct no-redirect hit on result/check. All four probes must be kept.
func (c *Client) finishTwoFactor(sess *loginSession, urls URLConfig, context string, verifyResp *http.Response, verifyBody []byte) (*twoFactorResult, error) {
	verifyJSON, err := ParseServerJSON(verifyBody)
	if err != nil {
		return nil, fmt.Errorf("two-factor: %w", err)
	}

	finishLoc, _ := jsonString(verifyJSON, "location")
	if finishLoc == "" {
		finishLoc = verifyResp.Header.Get("Location")
	}
	if finishLoc == "" {
		re := regexp.MustCompile(regexp.QuoteMeta(urls.AccountBase) + `/identity/result/check\?[^"']+`)
		finishLoc = re.FindString(string(verifyBody))
	}
	if finishLoc == "" {
		resp, _, err := sess.get(urls.AccountBase+"/identity/result/check", url.Values{
			"sid":     {"xiaomiio"},
			"context": {context},
			"_locale": {"en_US"},
		}, false)
		if err != nil {
			return nil, fmt.Errorf("two-factor: result check: %w", err)
		}
		finishLoc = resp.Header.Get("Location")
	}
	if finishLoc == "" {
		return nil, fmt.Errorf("%w: two-factor: could not determine finish location", ErrProtocol)
	}

	// result/check itself answers with a redirect to the real end URL.
	endURL := finishLoc
	if strings.Contains(finishLoc, "identity/result/check") {
		resp, _, err := sess.get(finishLoc, nil, false)
		if err != nil {
			return nil, fmt.Errorf("two-factor: result check: %w", err)
		}
		endURL = resp.Header.Get("Location")
		if endURL == "" {
			return nil, fmt.Errorf("%w: two-factor: no Location after result check", ErrProtocol)
		}
	}

	resp, body, err := sess.get(endURL, nil, false)
	if err != nil {
		return nil, fmt.Errorf("two-factor: finish: %w", err)
	}
	// The account system sometimes interposes a tips page that must be
	// requested once more before the real headers appear.
	if is2xx(resp.StatusCode) && strings.Contains(string(body), "Xiaomi Account - Tips") {
		resp, body, err = sess.get(endURL, nil, false)
		if err != nil {
			return nil, fmt.Errorf("two-factor: finish: %w", err)
		}
	}

	pragma := resp.Header.Get("extension-pragma")
	if pragma == "" {
		return nil, fmt.Errorf("%w: two-factor: no extension-pragma header", ErrProtocol)
	}
	pragmaJSON, err := ParseServerJSON([]byte(pragma))
	if err != nil {
		return nil, fmt.Errorf("two-factor: extension-pragma: %w", err)
	}
	ssecurity, ok := jsonString(pragmaJSON, "ssecurity")
	if !ok {
		return nil, fmt.Errorf("%w: two-factor: no ssecurity in extension-pragma", ErrProtocol)
	}

	stsURL := resp.Header.Get("Location")
	if stsURL == "" {
		stsURL = scanSTSURL(string(body), urls.STSBase)
	}
	if stsURL == "" {
		return nil, fmt.Errorf("%w: two-factor: could not find STS URL", ErrProtocol)
	}

	// Let the jar absorb the final session cookies.
	if _, _, err := sess.get(stsURL, nil, true); err != nil {
		return nil, fmt.Errorf("two-factor: sts: %w", err)
	}

	stsBase, err := url.Parse(urls.STSBase)
	if err != nil {
		return nil, fmt.Errorf("two-factor: invalid STS base: %w", err)
	}
	serviceToken, ok := extractCookie(sess.jar, stsBase, "serviceToken")
	if !ok {
		return nil, fmt.Errorf("%w: two-factor: serviceToken cookie not found", ErrProtocol)
	}

	accountBase, err := url.Parse(urls.AccountBase + "/")
	if err != nil {
		return nil, fmt.Errorf("two-factor: invalid account base: %w", err)
	}
	userIDValue, ok := extractCookie(sess.jar, accountBase, "userId")
	if !ok {
		return nil, fmt.Errorf("%w: two-factor: userId cookie not found", ErrProtocol)
	}
	userID, err := strconv.ParseInt(userIDValue, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: two-factor: userId cookie is not numeric: %v", ErrProtocol, err)
	}

	return &twoFactorResult{
		ssecurity:    ssecurity,
		userID:       userID,
		serviceToken: serviceToken,
	}, nil
}

// scanSTSURL extracts the STS URL from an HTML body: from the first
// occurrence of the STS prefix up to the next double quote, capped at
// stsScanWindow characters.
func scanSTSURL(body, stsBase string) string {
	idx := strings.Index(body, stsBase+"/sts")
	if idx < 0 {
		return ""
	}
	rest := body[idx:]
	end := strings.IndexByte(rest, '"')
	if end < 0 || end > stsScanWindow {
		end = stsScanWindow
	}
	if end > len(rest) {
		end = len(rest)
	}
	return rest[:end]
}

func nowMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
