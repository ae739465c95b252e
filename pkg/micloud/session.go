package micloud

import (
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// loginSession bundles the per-login HTTP machinery: one cookie jar shared
// between a redirect-following client and a no-redirect sibling. The
// no-redirect client exists so the 2FA flow can read Location headers and
// header-only secrets off 3xx responses; both clients observe and
// contribute to the same jar.
type loginSession struct {
	jar        *cookiejar.Jar
	client     *http.Client
	noRedirect *http.Client
	userAgent  string
}

func newLoginSession(userAgent string, timeout time.Duration) (*loginSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &loginSession{
		jar:    jar,
		client: &http.Client{Jar: jar, Timeout: timeout},
		noRedirect: &http.Client{
			Jar:     jar,
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
	}, nil
}

// seed preloads the jar with cookies for base before the first request.
func (s *loginSession) seed(base string, cookies ...*http.Cookie) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("failed to parse cookie base URL: %w", err)
	}
	s.jar.SetCookies(u, cookies)
	return nil
}

// get issues a GET with the session user agent and returns the response
// plus its fully read body. Follows redirects unless followRedirects is
// false.
func (s *loginSession) get(rawURL string, query url.Values, followRedirects bool) (*http.Response, []byte, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	return s.do(req, followRedirects)
}

// postForm issues a POST of form values with the session user agent. An
// optional query is attached to the URL, which some account endpoints use
// for cache-busting (_dc).
func (s *loginSession) postForm(rawURL string, query url.Values, form url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequest(http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req, true)
}

func (s *loginSession) do(req *http.Request, followRedirects bool) (*http.Response, []byte, error) {
	req.Header.Set("User-Agent", s.userAgent)

	client := s.client
	if !followRedirects {
		client = s.noRedirect
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read response body: %v", ErrTransport, err)
	}
	return resp, body, nil
}
