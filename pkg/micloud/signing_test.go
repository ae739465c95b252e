package micloud

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedNonceVector(t *testing.T) {
	got, err := SignedNonce("9wR21gAtfAyn+KDX1ok/Iw==", "BejIOTLgvecBs9sT")
	require.NoError(t, err)
	assert.Equal(t, "zq3TaSr/VwnmvvWwMTAEMAuzxs2gLgP6uFJS7bBtWKo=", got)
}

func TestSignedNonceMalformedInputs(t *testing.T) {
	_, err := SignedNonce("not base64!!!", "BejIOTLgvecBs9sT")
	assert.ErrorIs(t, err, ErrMalformedSecret)

	_, err = SignedNonce("9wR21gAtfAyn+KDX1ok/Iw==", "not base64!!!")
	assert.ErrorIs(t, err, ErrMalformedSecret)
}

func TestGenerateSignatureVector(t *testing.T) {
	got, err := GenerateSignature(
		"/home/device_list",
		"zq3TaSr/VwnmvvWwMTAEMAuzxs2gLgP6uFJS7bBtWKo=",
		"BejIOTLgvecBs9sT",
		map[string]any{"data": map[string]any{"getVirtualModel": false, "getHuamiDevices": 0}},
	)
	require.NoError(t, err)
	assert.Equal(t, "6KEUC7sycg/Vhh0Jz7bZqT1JCza7bv36B3WcKnuW9J8=", got)
}

func TestGenerateSignatureRawDataMatches(t *testing.T) {
	// The RPC pipeline passes the payload pre-marshalled; the signature
	// must match the map form as long as the bytes are canonical.
	raw, err := json.Marshal(map[string]any{"getVirtualModel": false, "getHuamiDevices": 0})
	require.NoError(t, err)

	got, err := GenerateSignature(
		"/home/device_list",
		"zq3TaSr/VwnmvvWwMTAEMAuzxs2gLgP6uFJS7bBtWKo=",
		"BejIOTLgvecBs9sT",
		map[string]any{"data": json.RawMessage(raw)},
	)
	require.NoError(t, err)
	assert.Equal(t, "6KEUC7sycg/Vhh0Jz7bZqT1JCza7bv36B3WcKnuW9J8=", got)
}

func TestGenerateSignatureKeyOrderIndependent(t *testing.T) {
	params := map[string]any{
		"beta":  1,
		"alpha": "x",
		"gamma": []any{true, nil},
	}

	first, err := GenerateSignature("/p", "zq3TaSr/VwnmvvWwMTAEMAuzxs2gLgP6uFJS7bBtWKo=", "BejIOTLgvecBs9sT", params)
	require.NoError(t, err)

	// Rebuild the map in a different insertion order.
	reordered := map[string]any{}
	reordered["gamma"] = []any{true, nil}
	reordered["alpha"] = "x"
	reordered["beta"] = 1

	second, err := GenerateSignature("/p", "zq3TaSr/VwnmvvWwMTAEMAuzxs2gLgP6uFJS7bBtWKo=", "BejIOTLgvecBs9sT", reordered)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGenerateNonceShape(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)

	nonce, err := generateNonceAt(now)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(nonce)
	require.NoError(t, err)
	require.Len(t, raw, 12)

	minutes := int32(binary.BigEndian.Uint32(raw[8:]))
	assert.Equal(t, int32(now.Unix()/60), minutes)
}

func TestGenerateNonceUnique(t *testing.T) {
	a, err := GenerateNonce()
	require.NoError(t, err)
	b, err := GenerateNonce()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
