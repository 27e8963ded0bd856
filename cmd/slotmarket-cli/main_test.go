package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"slotmarket/crypto"
	"slotmarket/gateway/middleware"
)

type staticSecret string

func (s staticSecret) Get() (string, error) { return string(s), nil }

func stubSecrets(t *testing.T, values map[string]string) {
	t.Helper()
	original := newSecretSource
	newSecretSource = func(envVar, label string) secretGetter {
		return staticSecret(values[envVar])
	}
	t.Cleanup(func() { newSecretSource = original })
}

type recordedCall struct {
	method string
	params interface{}
	auth   bool
}

func stubRPC(t *testing.T, result string, rpcErr *rpcError) *[]recordedCall {
	t.Helper()
	calls := &[]recordedCall{}
	original := rpcCall
	rpcCall = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		*calls = append(*calls, recordedCall{method: method, params: params, auth: requireAuth})
		return json.RawMessage(result), rpcErr, nil
	}
	t.Cleanup(func() { rpcCall = original })
	return calls
}

func addrString(fill byte) string {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return crypto.FormatAddress(addr)
}

func TestAuctionStartBuildsParams(t *testing.T) {
	calls := stubRPC(t, `{"status":"started"}`, nil)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run([]string{"auction", "start", "--id", "3", "--start-price", "1_000", "--end-time", "1700090000"}, stdout, stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Len(t, *calls, 1)
	call := (*calls)[0]
	require.Equal(t, "auction_start", call.method)
	require.True(t, call.auth)
	require.Equal(t, map[string]interface{}{
		"tokenId":    uint64(3),
		"startPrice": "1000",
		"endTime":    int64(1700090000),
	}, call.params)
	require.Contains(t, stdout.String(), `"status": "started"`)
}

func TestValidationErrorsSkipRPC(t *testing.T) {
	calls := stubRPC(t, `{}`, nil)
	cases := [][]string{
		{"auction", "bid"},
		{"auction", "start", "--id", "1", "--start-price", "-4", "--end-time", "10"},
		{"escrow", "withdraw", "--id", "1", "--preimage", "0x1234"},
		{"escrow", "set-hashlock", "--id", "1", "--hashlock", "0x" + strings.Repeat("ab", 32)},
		{"currency", "transfer", "--to", "cosmos1xyz", "--amount", "5"},
		{"inventory", "mint", "--valid-start", "10", "--valid-end", "5"},
		{"auction", "explode"},
		{"nonsense"},
	}
	for _, args := range cases {
		stderr := &bytes.Buffer{}
		code := run(args, &bytes.Buffer{}, stderr)
		require.Equal(t, 1, code, strings.Join(args, " "))
		require.NotEmpty(t, stderr.String())
	}
	require.Empty(t, *calls)
}

func TestRPCErrorIsReported(t *testing.T) {
	stubRPC(t, ``, &rpcError{Code: -32036, Message: "not found: no auction for token 9"})
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run([]string{"auction", "get", "--id", "9"}, stdout, stderr)
	require.Equal(t, 1, code)
	require.Empty(t, stdout.String())
	require.Equal(t, "RPC error -32036: not found: no auction for token 9\n", stderr.String())
}

func TestEventsQueryParams(t *testing.T) {
	calls := stubRPC(t, `[]`, nil)
	code := run([]string{"events", "--id", "0", "--type", "auction.bid", "--limit", "5"}, &bytes.Buffer{}, &bytes.Buffer{})
	require.Equal(t, 0, code)
	require.Equal(t, map[string]interface{}{"tokenId": uint64(0), "type": "auction.bid", "limit": 5}, (*calls)[0].params)
	require.False(t, (*calls)[0].auth)
}

func TestGlobalFlags(t *testing.T) {
	origEndpoint, origToken := rpcEndpoint, rpcToken
	t.Cleanup(func() { rpcEndpoint, rpcToken = origEndpoint, origToken })

	rest, err := applyGlobalFlags([]string{"--rpc", "http://example:1/rpc", "--token=abc", "currency", "supply"})
	require.NoError(t, err)
	require.Equal(t, []string{"currency", "supply"}, rest)
	require.Equal(t, "http://example:1/rpc", rpcEndpoint)
	require.Equal(t, "abc", rpcToken)

	_, err = applyGlobalFlags([]string{"--rpc"})
	require.Error(t, err)
}

func TestCallRPCSendsBearerToken(t *testing.T) {
	var gotAuth, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotMethod, _ = req["method"].(string)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"paused":true}}`))
	}))
	defer srv.Close()

	origEndpoint, origToken := rpcEndpoint, rpcToken
	t.Cleanup(func() { rpcEndpoint, rpcToken = origEndpoint, origToken })
	rpcEndpoint, rpcToken = srv.URL, "jwt-value"

	result, rpcErr, err := callRPC("inventory_pause", nil, true)
	require.NoError(t, err)
	require.Nil(t, rpcErr)
	require.JSONEq(t, `{"paused":true}`, string(result))
	require.Equal(t, "Bearer jwt-value", gotAuth)
	require.Equal(t, "inventory_pause", gotMethod)

	rpcToken = ""
	_, _, err = callRPC("inventory_pause", nil, true)
	require.Error(t, err)
}

func TestTokenCommandSignsCaller(t *testing.T) {
	stubSecrets(t, map[string]string{"SIGNING": "s3cret"})
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run([]string{"token", "--address", addrString(0x07), "--secret-env", "SIGNING", "--ttl", "5m"}, stdout, stderr)
	require.Equal(t, 0, code, stderr.String())

	auth := middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: "s3cret", Issuer: "slotmarket"}, nil)
	caller, err := auth.Verify(strings.TrimSpace(stdout.String()))
	require.NoError(t, err)
	require.Equal(t, addrString(0x07), crypto.FormatAddress(caller))
}

func TestKeygenThenTokenFromKeystore(t *testing.T) {
	stubSecrets(t, map[string]string{envKeystorePass: "pass", "SLOTMARKET_JWT_SECRET": "s3cret"})
	path := filepath.Join(t.TempDir(), "caller.keystore")

	stdout := &bytes.Buffer{}
	require.Equal(t, 0, run([]string{"keygen", "--out", path}, stdout, &bytes.Buffer{}))
	address := strings.TrimSpace(stdout.String())
	_, err := crypto.ParseAddress(address)
	require.NoError(t, err)

	stdout.Reset()
	stderr := &bytes.Buffer{}
	require.Equal(t, 0, run([]string{"token", "--keystore", path, "--ttl", time.Minute.String()}, stdout, stderr), stderr.String())
	auth := middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: "s3cret"}, nil)
	caller, err := auth.Verify(strings.TrimSpace(stdout.String()))
	require.NoError(t, err)
	require.Equal(t, address, crypto.FormatAddress(caller))
}
