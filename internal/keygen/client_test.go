package keygen

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracecut/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.KeygenConfig{
		BaseURL:           srv.URL,
		AccountID:         "acct-1",
		Token:             "prod-token",
		Timeout:           2 * time.Second,
		MaxCallsPerSecond: 100,
	}, slog.Default())
	require.NotNil(t, c)
	return c
}

func TestNewClientNilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewClient(config.KeygenConfig{BaseURL: "https://api.keygen.sh/v1"}, slog.Default()))
}

func TestGetLicenseActive(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/accounts/acct-1/licenses/lic-123", r.URL.Path)
		assert.Equal(t, "Bearer prod-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/vnd.api+json")
		w.Write([]byte(`{"data":{"id":"lic-123","type":"licenses","attributes":{
			"key":"TCUT-AAAA-BBBB-CCCC","status":"ACTIVE","suspended":false,
			"expiry":"2027-01-01T00:00:00Z"}}}`))
	})

	snap, err := c.GetLicense(context.Background(), "lic-123")
	require.NoError(t, err)
	assert.Equal(t, "lic-123", snap.ID)
	assert.Equal(t, StatusActive, snap.Status)
	assert.False(t, snap.Suspended)
	require.NotNil(t, snap.Expiry)
	assert.Equal(t, 2027, snap.Expiry.Year())
	assert.Equal(t, "CCCC", snap.KeyLast4)
}

func TestGetLicenseBannedIsSuspended(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"lic-9","attributes":{"status":"BANNED","expiry":""}}}`))
	})

	snap, err := c.GetLicense(context.Background(), "lic-9")
	require.NoError(t, err)
	assert.True(t, snap.Suspended)
	assert.Nil(t, snap.Expiry)
}

func TestGetLicenseNotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[{"title":"Not found"}]}`))
	})

	_, err := c.GetLicense(context.Background(), "lic-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetLicenseServerErrorIsUnavailable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.GetLicense(context.Background(), "lic-123")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestValidateKeyValid(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/acct-1/licenses/actions/validate-key", r.URL.Path)

		w.Write([]byte(`{"meta":{"valid":true,"code":"VALID"},
			"data":{"id":"lic-55","attributes":{"status":"ACTIVE","expiry":"2027-06-01T00:00:00Z"}}}`))
	})

	v, err := c.ValidateKey(context.Background(), "TCUT-AAAA-BBBB-DDDD", "dev_abc12345")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.True(t, v.Acceptable())
	assert.Equal(t, "lic-55", v.LicenseID)
	assert.Equal(t, "DDDD", v.KeyLast4)
}

func TestValidateKeyMachineScopeStillAcceptable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{"valid":false,"code":"NO_MACHINE"},
			"data":{"id":"lic-55","attributes":{"status":"ACTIVE"}}}`))
	})

	v, err := c.ValidateKey(context.Background(), "TCUT-AAAA-BBBB-DDDD", "dev_abc12345")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.True(t, v.Acceptable())
}

func TestValidateKeyNotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{"valid":false,"code":"NOT_FOUND"}}`))
	})

	_, err := c.ValidateKey(context.Background(), "TCUT-ZZZZ-ZZZZ-ZZZZ", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateKeySuspendedNotAcceptable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{"valid":false,"code":"SUSPENDED"},
			"data":{"id":"lic-55","attributes":{"status":"SUSPENDED","suspended":true}}}`))
	})

	v, err := c.ValidateKey(context.Background(), "TCUT-AAAA-BBBB-DDDD", "")
	require.NoError(t, err)
	assert.False(t, v.Acceptable())
	assert.True(t, v.Suspended)
}
