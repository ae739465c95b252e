package micloud

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// authedClient returns a client carrying a completed session, pointed at
// the stub server.
func authedClient(server *httptest.Server) *Client {
	c := testClient(server)
	c.mu.Lock()
	c.ssecurity = "c2VjcmV0"
	c.userID = "42"
	c.serviceToken = "T"
	c.mu.Unlock()
	return c
}

func TestRequestNotAuthenticated(t *testing.T) {
	c := New()
	_, err := c.GetDevices(nil, "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRequestUnsupportedRegion(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c := authedClient(server)
	_, err := c.GetDevices(nil, "mars")
	assert.ErrorIs(t, err, ErrUnsupportedRegion)
}

func TestGetDevicesEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/home/device_list", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		nonce := r.PostForm.Get("_nonce")
		data := r.PostForm.Get("data")
		sig := r.PostForm.Get("signature")
		require.NotEmpty(t, nonce)
		assert.JSONEq(t, `{"getVirtualModel":false,"getHuamiDevices":0}`, data)

		// The server recomputes the signature over the exact data bytes it
		// received; the client must have signed the same bytes it sent.
		sn, err := SignedNonce("c2VjcmV0", nonce)
		require.NoError(t, err)
		want, err := GenerateSignature("/home/device_list", sn, nonce,
			map[string]any{"data": json.RawMessage(data)})
		require.NoError(t, err)
		assert.Equal(t, want, sig)

		assert.Equal(t, "PROTOCAL-HTTP2", r.Header.Get("x-xiaomi-protocal-flag-cli"))
		assert.Equal(t, "180100041079", r.Header.Get("mishop-client-id"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		cookie := r.Header.Get("Cookie")
		assert.Contains(t, cookie, "userId=42")
		assert.Contains(t, cookie, "serviceToken=T")
		assert.Contains(t, cookie, "yetAnotherServiceToken=T")
		assert.Contains(t, cookie, "sdkVersion=accountsdk-18.8.15")

		_, _ = w.Write([]byte(`&&&START&&&{"result":{"list":[` +
			`{"did":"d1","name":"Desk lamp","model":"yeelink.light.color2",` +
			`"localip":"10.0.0.9","token":"tok","isOnline":true,"rssi":-54}]}}`))
	})

	c := authedClient(server)
	devices, err := c.GetDevices(nil, "")
	require.NoError(t, err)
	require.Len(t, devices, 1)

	d := devices[0]
	assert.Equal(t, "d1", d.DID)
	assert.Equal(t, "Desk lamp", d.Name)
	assert.Equal(t, "yeelink.light.color2", d.Model)
	assert.Equal(t, "10.0.0.9", d.LocalIP)
	assert.Equal(t, "tok", d.Token)
	assert.True(t, d.IsOnline)
	// Fields this package does not name survive in Raw.
	assert.Equal(t, float64(-54), d.Raw["rssi"])
}

func TestGetDevicesScopedToDIDs(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/home/device_list", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.JSONEq(t, `{"dids":["d1","d2"]}`, r.PostForm.Get("data"))
		_, _ = w.Write([]byte(`{"result":{"list":[]}}`))
	})

	c := authedClient(server)
	devices, err := c.GetDevices([]string{"d1", "d2"}, "")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestRequestRegionFallsBackToCN(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	hit := false
	mux.HandleFunc("/home/device_list", func(w http.ResponseWriter, r *http.Request) {
		hit = true
		_, _ = w.Write([]byte(`{"result":{"list":[]}}`))
	})

	// The stub config only has a cn base; i2 has no dedicated deployment
	// and must land there.
	c := authedClient(server)
	_, err := c.GetDevices(nil, "i2")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestRequestServerErrorMessage(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/home/device_list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":null,"error":{"message":"quota exceeded"}}`))
	})

	c := authedClient(server)
	_, err := c.GetDevices(nil, "")

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "quota exceeded", serverErr.Message)
}

func TestRequestFallbackMessage(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/home/device_list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":null}`))
	})

	c := authedClient(server)
	_, err := c.GetDevices(nil, "")

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "Get devices failed", serverErr.Message)
}

func TestRequestTransportAndDecodeFailures(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/home/device_list", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/home/rpc/bad", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`&&&START&&&<html>`))
	})

	c := authedClient(server)

	_, err := c.GetDevices(nil, "")
	assert.ErrorIs(t, err, ErrTransport)

	_, err = c.CallDevice("bad", "get_prop", []any{"power"}, "")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestCallDevice(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/home/rpc/d1", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.JSONEq(t, `{"method":"set_power","params":["on","smooth",500]}`, r.PostForm.Get("data"))
		_, _ = w.Write([]byte(`{"result":["ok"]}`))
	})

	c := authedClient(server)
	result, err := c.CallDevice("d1", "set_power", []any{"on", "smooth", 500}, "")
	require.NoError(t, err)
	assert.JSONEq(t, `["ok"]`, string(result))
}

func TestCallDeviceFallbackMessageNamesDevice(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/home/rpc/d9", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":null}`))
	})

	c := authedClient(server)
	_, err := c.CallDevice("d9", "get_prop", nil, "")

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "Miio call for device d9 failed", serverErr.Message)
}

func TestDeviceMarshalKeepsRaw(t *testing.T) {
	src := `{"did":"d1","name":"x","model":"m","localip":"","token":"","isOnline":false,"fw":"1.2.3"}`

	var d Device
	require.NoError(t, json.Unmarshal([]byte(src), &d))

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, src, string(out))
}
