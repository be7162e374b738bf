package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/alanyoungcy/justersync/internal/domain"
)

// Wallet is the connected wallet as seen by the session.
type Wallet interface {
	// Account returns the connected account; ok is false when no wallet is
	// connected.
	Account() (account domain.WalletAccount, ok bool)
	// Proof returns the signed proof of ownership; ok is false when the
	// wallet could not sign one.
	Proof() (proof domain.Proof, ok bool)
	// SetConnectPayload publishes the payload the next connection signs.
	// An empty payload means none is available.
	SetConnectPayload(payload string)
	Disconnect(ctx context.Context) error
}

// StaticWallet is a Wallet whose account and proof are supplied by
// configuration or over the HTTP API.
type StaticWallet struct {
	mu        sync.RWMutex
	account   domain.WalletAccount
	proof     *domain.Proof
	connected bool
	payload   string
}

// NewStaticWallet returns a wallet connected as account when its address is
// set. proof may be nil.
func NewStaticWallet(account domain.WalletAccount, proof *domain.Proof) *StaticWallet {
	return &StaticWallet{
		account:   account,
		proof:     proof,
		connected: account.Address != "",
	}
}

// LoadProof reads a JSON encoded proof from path.
func LoadProof(path string) (*domain.Proof, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read proof: %w", err)
	}
	var p domain.Proof
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("session: decode proof: %w", err)
	}
	return &p, nil
}

// Connect replaces the connected account and proof.
func (w *StaticWallet) Connect(account domain.WalletAccount, proof *domain.Proof) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.account = account
	w.proof = proof
	w.connected = account.Address != ""
}

func (w *StaticWallet) Account() (domain.WalletAccount, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.account, w.connected
}

func (w *StaticWallet) Proof() (domain.Proof, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.connected || w.proof == nil {
		return domain.Proof{}, false
	}
	return *w.proof, true
}

func (w *StaticWallet) SetConnectPayload(payload string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.payload = payload
}

// ConnectPayload returns the last payload published by the session.
func (w *StaticWallet) ConnectPayload() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.payload
}

func (w *StaticWallet) Disconnect(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	w.proof = nil
	return nil
}
