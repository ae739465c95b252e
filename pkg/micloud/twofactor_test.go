package micloud

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoFactorMux wires the login steps up to the point where the server
// demands two-factor verification. Tests add the identity endpoints on
// top.
func twoFactorMux(server func() string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/pass/serviceLogin", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"_sign":"sign-X"}`))
	})
	mux.HandleFunc("/pass/serviceLoginAuth2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"notificationUrl":"` + server() + `/notify?context=CTX"}`))
	})
	mux.HandleFunc("/notify", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("verify yourself"))
	})
	return mux
}

func TestLoginTwoFactorEmailFlow(t *testing.T) {
	var serverURL string
	mux := twoFactorMux(func() string { return serverURL })
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	mux.HandleFunc("/identity/list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CTX", r.URL.Query().Get("context"))
		assert.Equal(t, "xiaomiio", r.URL.Query().Get("sid"))
		_, _ = w.Write([]byte(`{"flag":8,"options":[8]}`))
	})
	ticketsSent := 0
	mux.HandleFunc("/identity/auth/sendEmailTicket", func(w http.ResponseWriter, r *http.Request) {
		ticketsSent++
		assert.NotEmpty(t, r.URL.Query().Get("_dc"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "0", r.PostForm.Get("retry"))
		assert.Equal(t, "true", r.PostForm.Get("_json"))
		_, _ = w.Write([]byte(`{"code":0}`))
	})
	mux.HandleFunc("/identity/auth/verifyEmail", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "8", r.PostForm.Get("_flag"))
		assert.Equal(t, "false", r.PostForm.Get("trust"))
		if r.PostForm.Get("ticket") != "123456" {
			_, _ = w.Write([]byte(`{"code":70014}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"location":"` + server.URL + `/finish"}`))
	})
	mux.HandleFunc("/finish", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("extension-pragma", `{"ssecurity":"dHdvZmFjdG9y"}`)
		w.Header().Set("Location", server.URL+"/sts-final")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/sts-final", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "serviceToken", Value: "T2", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "userId", Value: "99", Path: "/"})
		_, _ = w.Write([]byte("ok"))
	})

	c := testClient(server)

	type promptCall struct{ flag, lastError string }
	var prompts []promptCall
	c.SetTwoFactorHandler(func(flag, lastError string) {
		prompts = append(prompts, promptCall{flag, lastError})
		if len(prompts) == 1 {
			c.TwoFactorSolve("000000")
			return
		}
		c.TwoFactorSolve("123456")
	})

	require.NoError(t, c.Login("u", "p"))

	require.Len(t, prompts, 2)
	assert.Equal(t, promptCall{"8", ""}, prompts[0])
	assert.Equal(t, promptCall{"8", "Incorrect code. Please try again."}, prompts[1])

	// Only one ticket is sent; wrong codes re-prompt without resending.
	assert.Equal(t, 1, ticketsSent)

	assert.True(t, c.LoggedIn())
	assert.Equal(t, "99", c.UserID())
	assert.Equal(t, "dHdvZmFjdG9y", c.ssecurity)
	assert.Equal(t, "T2", c.serviceToken)
}

func TestLoginTwoFactorPhoneChannel(t *testing.T) {
	var serverURL string
	mux := twoFactorMux(func() string { return serverURL })
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	mux.HandleFunc("/identity/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flag":4,"options":[4,8]}`))
	})
	mux.HandleFunc("/identity/auth/sendPhoneTicket", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0}`))
	})
	mux.HandleFunc("/identity/auth/verifyPhone", func(w http.ResponseWriter, r *http.Request) {
		// No location field and no Location header forces the
		// result/check fallback probe.
		_, _ = w.Write([]byte(`{"code":0}`))
	})
	mux.HandleFunc("/identity/result/check", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", server.URL+"/finish")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/finish", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("extension-pragma", `{"ssecurity":"cGhvbmU="}`)
		w.Header().Set("Location", server.URL+"/sts-final")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/sts-final", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "serviceToken", Value: "T3", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "userId", Value: "7", Path: "/"})
	})

	c := testClient(server)
	c.SetTwoFactorHandler(func(flag, lastError string) {
		assert.Equal(t, "4", flag)
		c.TwoFactorSolve("654321")
	})

	require.NoError(t, c.Login("u", "p"))
	assert.Equal(t, "7", c.UserID())
	assert.Equal(t, "cGhvbmU=", c.ssecurity)
	assert.Equal(t, "T3", c.serviceToken)
}

func TestLoginTwoFactorNoHandler(t *testing.T) {
	var serverURL string
	mux := twoFactorMux(func() string { return serverURL })
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	mux.HandleFunc("/identity/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flag":8,"options":[8]}`))
	})
	mux.HandleFunc("/identity/auth/sendEmailTicket", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0}`))
	})

	c := testClient(server)
	err := c.Login("u", "p")
	assert.ErrorIs(t, err, ErrTwoFactorUnsupported)
}

func TestLoginTwoFactorCancelled(t *testing.T) {
	var serverURL string
	mux := twoFactorMux(func() string { return serverURL })
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	mux.HandleFunc("/identity/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flag":8,"options":[8]}`))
	})
	mux.HandleFunc("/identity/auth/sendEmailTicket", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0}`))
	})

	c := testClient(server)
	c.SetTwoFactorHandler(func(string, string) { c.TwoFactorCancel() })

	err := c.Login("u", "p")
	assert.ErrorIs(t, err, ErrTwoFactorCancelled)
}

func TestLoginTwoFactorRejected(t *testing.T) {
	var serverURL string
	mux := twoFactorMux(func() string { return serverURL })
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	mux.HandleFunc("/identity/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flag":8,"options":[8]}`))
	})
	mux.HandleFunc("/identity/auth/sendEmailTicket", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0}`))
	})
	mux.HandleFunc("/identity/auth/verifyEmail", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":81003}`))
	})

	c := testClient(server)
	c.SetTwoFactorHandler(func(string, string) { c.TwoFactorSolve("123456") })

	err := c.Login("u", "p")
	assert.ErrorIs(t, err, ErrTwoFactorRejected)
}

func TestLoginTwoFactorAccountNotConfigured(t *testing.T) {
	var serverURL string
	mux := twoFactorMux(func() string { return serverURL })
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	mux.HandleFunc("/identity/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flag":0,"options":[]}`))
	})

	c := testClient(server)
	c.SetTwoFactorHandler(func(string, string) { c.TwoFactorSolve("123456") })

	err := c.Login("u", "p")
	assert.ErrorIs(t, err, ErrAccountNotConfigured)
	assert.Contains(t, err.Error(), "/notify")
}

func TestScanSTSURL(t *testing.T) {
	base := "https://sts.api.io.mi.com"

	body := `<a href="` + base + `/sts?auth=abc&followup=xyz">continue</a>`
	assert.Equal(t, base+"/sts?auth=abc&followup=xyz", scanSTSURL(body, base))

	// Unterminated URLs are capped rather than running to end of body.
	long := base + "/sts?auth=" + strings.Repeat("x", 1000)
	assert.Len(t, scanSTSURL(long, base), stsScanWindow)

	assert.Empty(t, scanSTSURL("nothing here", base))
}
