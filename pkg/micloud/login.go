package micloud

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/marmos91/micloud/internal/logger"
)

// step2Result is the outcome of the credential exchange: either the direct
// success triple or a pending two-factor notification URL.
type step2Result struct {
	ssecurity       string
	userID          int64
	location        string
	notificationURL string
}

// Login runs the multi-step account login. On success the session holds
// ssecurity, userID and serviceToken; the per-login cookie jar is
// discarded. CAPTCHA and 2FA demands are routed through the installed
// handlers; without a CAPTCHA handler the server's original error bubbles
// up, without a 2FA handler a 2FA demand fails with ErrTwoFactorUnsupported.
func (c *Client) Login(username, password string) error {
	c.mu.Lock()
	urls := c.urls
	userAgent := c.userAgent
	clientID := c.clientID
	timeout := c.httpTimeout
	c.mu.Unlock()

	sess, err := newLoginSession(userAgent, timeout)
	if err != nil {
		return err
	}
	err = sess.seed(urls.AccountBase,
		&http.Cookie{Name: "userId", Value: username},
		&http.Cookie{Name: "deviceId", Value: clientID},
	)
	if err != nil {
		return err
	}

	sum := md5.Sum([]byte(password))
	passwordMD5 := strings.ToUpper(hex.EncodeToString(sum[:]))

	sign, err := c.loginStep1(sess, urls)
	if err != nil {
		return err
	}
	logger.Debug("login step 1 complete")

	res, err := c.loginStep2(sess, urls, username, passwordMD5, sign)
	if err != nil {
		return err
	}

	var ssecurity, userID, serviceToken string
	if res.notificationURL != "" {
		logger.Debug("two-factor verification required", "url", res.notificationURL)
		tf, err := c.handleTwoFactor(sess, urls, res.notificationURL)
		if err != nil {
			return err
		}
		ssecurity = tf.ssecurity
		userID = strconv.FormatInt(tf.userID, 10)
		serviceToken = tf.serviceToken
	} else {
		logger.Debug("login step 2 complete", "userId", res.userID)
		serviceToken, err = c.loginStep3(sess, res.location)
		if err != nil {
			return err
		}
		ssecurity = res.ssecurity
		userID = strconv.FormatInt(res.userID, 10)
	}

	c.mu.Lock()
	c.username = username
	c.passwordMD5 = passwordMD5
	c.ssecurity = ssecurity
	c.userID = userID
	c.serviceToken = serviceToken
	c.mu.Unlock()

	logger.Debug("login complete", "userId", userID)
	return nil
}

// loginStep1 fetches the _sign token, retrying through the CAPTCHA sub-flow
// when the server demands one.
func (c *Client) loginStep1(sess *loginSession, urls URLConfig) (string, error) {
	captcha := ""
	for {
		query := url.Values{
			"sid":     {"xiaomiio"},
			"_json":   {"true"},
			"_locale": {"en_US"},
		}
		if captcha != "" {
			query.Set("captCode", captcha)
		}

		resp, body, err := sess.get(urls.LoginStep1, query, true)
		if err != nil {
			return "", fmt.Errorf("login step 1: %w", err)
		}
		if !is2xx(resp.StatusCode) {
			return "", statusError("login step 1", resp.StatusCode)
		}

		data, err := ParseServerJSON(body)
		if err != nil {
			return "", fmt.Errorf("login step 1: %w", err)
		}

		code, retry, err := c.solveCaptcha(urls, data)
		if err != nil {
			return "", err
		}
		if retry {
			captcha = code
			continue
		}

		sign, ok := jsonString(data, "_sign")
		if !ok {
			return "", fmt.Errorf("%w: login step 1: no _sign in response", ErrProtocol)
		}
		return sign, nil
	}
}

// loginStep2 exchanges the hashed credentials for either the success triple
// or a two-factor notification URL. CAPTCHA demands re-run the exchange.
//
// Known server codes seen on this endpoint:
//
//	20003 InvalidUserNameException
//	22009 PackageNameDeniedException
//	70002 InvalidCredentialException
//	70016 InvalidCredentialException with captchaUrl / password error
//	81003 NeedVerificationException
//	87001 InvalidResponseException (captCode error)
//	other NeedCaptchaException
func (c *Client) loginStep2(sess *loginSession, urls URLConfig, username, passwordMD5, sign string) (*step2Result, error) {
	captcha := ""
	for {
		form := url.Values{
			"hash":     {passwordMD5},
			"_json":    {"true"},
			"sid":      {"xiaomiio"},
			"callback": {urls.STSBase + "/sts"},
			"qs":       {"%3Fsid%3Dxiaomiio%26_json%3Dtrue"},
			"_sign":    {sign},
			"user":     {username},
			"captCode": {captcha},
		}

		resp, body, err := sess.postForm(urls.LoginStep2, nil, form)
		if err != nil {
			return nil, fmt.Errorf("login step 2: %w", err)
		}
		if !is2xx(resp.StatusCode) {
			return nil, statusError("login step 2", resp.StatusCode)
		}

		data, err := ParseServerJSON(body)
		if err != nil {
			return nil, fmt.Errorf("login step 2: %w", err)
		}

		code, retry, err := c.solveCaptcha(urls, data)
		if err != nil {
			return nil, err
		}
		if retry {
			captcha = code
			continue
		}

		if ssecurity, ok := jsonString(data, "ssecurity"); ok {
			userID, ok := jsonInt64(data, "userId")
			if !ok {
				return nil, fmt.Errorf("%w: login step 2: no userId in response", ErrProtocol)
			}
			location, ok := jsonString(data, "location")
			if !ok {
				return nil, fmt.Errorf("%w: login step 2: no location in response", ErrProtocol)
			}
			return &step2Result{ssecurity: ssecurity, userID: userID, location: location}, nil
		}

		if notificationURL, ok := jsonString(data, "notificationUrl"); ok {
			return &step2Result{notificationURL: notificationURL}, nil
		}

		return nil, fmt.Errorf("%w: login step 2: neither ssecurity nor notificationUrl in response", ErrProtocol)
	}
}

// loginStep3 follows the sts location and harvests the serviceToken cookie.
func (c *Client) loginStep3(sess *loginSession, location string) (string, error) {
	resp, _, err := sess.get(location, nil, true)
	if err != nil {
		return "", fmt.Errorf("login step 3: %w", err)
	}

	for _, ck := range resp.Cookies() {
		if ck.Name == "serviceToken" {
			return ck.Value, nil
		}
	}
	// A redirect hop may have consumed the Set-Cookie; the jar still has it.
	if token, ok := extractCookie(sess.jar, resp.Request.URL, "serviceToken"); ok {
		return token, nil
	}
	return "", fmt.Errorf("%w: login step 3: serviceToken cookie not found", ErrProtocol)
}

// solveCaptcha runs the CAPTCHA sub-flow when data carries a captchaUrl and
// a handler is installed. It returns the solved code and retry=true when
// the demanding step should be re-executed; with no handler the demand is
// treated as not needed so the server's own error surfaces downstream.
func (c *Client) solveCaptcha(urls URLConfig, data map[string]any) (code string, retry bool, err error) {
	captchaURL, ok := jsonString(data, "captchaUrl")
	if !ok {
		return "", false, nil
	}

	c.mu.Lock()
	handler := c.captchaHandler
	c.mu.Unlock()
	if handler == nil {
		return "", false, nil
	}

	fullURL := urls.AccountBase + captchaURL
	logger.Debug("captcha requested", "url", fullURL)

	code, err = c.captcha.requestSolve(func() { handler(fullURL) })
	if err != nil {
		if errors.Is(err, errChallengeCancelled) {
			return "", false, ErrCaptchaCancelled
		}
		return "", false, err
	}
	return code, true, nil
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}
