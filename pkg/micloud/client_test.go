package micloud

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetHTTPTimeout(t *testing.T) {
	c := New()
	assert.Equal(t, 30*time.Second, c.newHTTPClient().Timeout)

	c.SetHTTPTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, c.newHTTPClient().Timeout)

	// Non-positive values keep the previous bound.
	c.SetHTTPTimeout(0)
	c.SetHTTPTimeout(-time.Second)
	assert.Equal(t, 5*time.Second, c.newHTTPClient().Timeout)
}

func TestLoginSessionCarriesTimeout(t *testing.T) {
	sess, err := newLoginSession("ua", 7*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, sess.client.Timeout)
	assert.Equal(t, 7*time.Second, sess.noRedirect.Timeout)
}
