package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
)

// AuthClient talks to the proof-of-ownership backend.
type AuthClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAuthClient creates a client for baseURL, e.g. "http://localhost:5502".
func NewAuthClient(baseURL string, logger *slog.Logger) *AuthClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With(slog.String("component", "auth-client")),
	}
}

type payloadResponse struct {
	Payload string `json:"payload"`
}

// checkProofRequest is the body of POST /auth/check-proof. The proof is
// forwarded with the wallet state init attached.
type checkProofRequest struct {
	Address   string    `json:"address"`
	Network   string    `json:"network"`
	PublicKey string    `json:"publicKey"`
	Proof     proofWire `json:"proof"`
}

type proofWire struct {
	domain.Proof
	StateInit string `json:"state_init"`
}

type checkProofResponse struct {
	AuthToken string `json:"authToken"`
}

// GeneratePayload asks the backend for a payload the wallet signs when
// connecting. It returns "" when the backend cannot be reached.
func (c *AuthClient) GeneratePayload(ctx context.Context) string {
	var resp payloadResponse
	if err := c.post(ctx, "/auth/generate-payload", nil, &resp); err != nil {
		c.logger.Warn("generate payload failed", slog.String("error", err.Error()))
		return ""
	}
	return resp.Payload
}

// CheckProof exchanges a signed proof for a bearer token. It returns "" when
// the proof is rejected or the backend cannot be reached.
func (c *AuthClient) CheckProof(ctx context.Context, account domain.WalletAccount, proof domain.Proof) string {
	body := checkProofRequest{
		Address:   account.Address,
		Network:   account.Chain,
		PublicKey: account.PublicKey,
		Proof:     proofWire{Proof: proof, StateInit: account.WalletStateInit},
	}
	var resp checkProofResponse
	if err := c.post(ctx, "/auth/check-proof", body, &resp); err != nil {
		c.logger.Warn("check proof failed",
			slog.String("address", account.Address),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return resp.AuthToken
}

func (c *AuthClient) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
