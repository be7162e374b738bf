package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/justersync/internal/domain"
)

func TestGeneratePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/generate-payload", r.URL.Path)
		_, _ = w.Write([]byte(`{"payload":"abc"}`))
	}))
	defer srv.Close()

	c := NewAuthClient(srv.URL+"/", nil)
	assert.Equal(t, "abc", c.GeneratePayload(context.Background()))
}

func TestGeneratePayloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	assert.Empty(t, NewAuthClient(srv.URL, nil).GeneratePayload(context.Background()))
}

func TestCheckProof(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/check-proof", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"authToken":"tok"}`))
	}))
	defer srv.Close()

	account := domain.WalletAccount{Address: testAddress, Chain: "-239", PublicKey: "pk", WalletStateInit: "te6cc"}
	proof := domain.Proof{Timestamp: 1700000000, Domain: json.RawMessage(`{"lengthBytes":9,"value":"juster.fi"}`), Signature: "sig", Payload: "p"}

	token := NewAuthClient(srv.URL, nil).CheckProof(context.Background(), account, proof)
	assert.Equal(t, "tok", token)

	assert.Equal(t, testAddress, body["address"])
	assert.Equal(t, "-239", body["network"])
	assert.Equal(t, "pk", body["publicKey"])
	p, ok := body["proof"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "te6cc", p["state_init"])
	assert.Equal(t, "sig", p["signature"])
}

func TestCheckProofUnreachable(t *testing.T) {
	c := NewAuthClient("http://127.0.0.1:1", nil)
	assert.Empty(t, c.CheckProof(context.Background(), domain.WalletAccount{}, domain.Proof{}))
}
