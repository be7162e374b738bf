package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/state"
)

// Logout reasons shown to the user.
const (
	ReasonTokenExpired  = "Auth token expired"
	ReasonNoToken       = "Auth token could not be generated"
	ReasonProofUnsigned = "Wallet could not sign the proof"
	ReasonUserLogout    = "Wallet disconnected"
)

const defaultPayloadTTL = 20 * time.Minute

// AuthAPI is the proof-of-ownership backend.
type AuthAPI interface {
	GeneratePayload(ctx context.Context) string
	CheckProof(ctx context.Context, account domain.WalletAccount, proof domain.Proof) string
}

// TokenStore persists the bearer token and the onboarding flag.
type TokenStore interface {
	AuthToken(ctx context.Context) (string, error)
	SetAuthToken(ctx context.Context, token string) error
	ClearAuthToken(ctx context.Context) error
	OnboardingShown(ctx context.Context) (bool, error)
}

// Users starts and stops the per-user live views.
type Users interface {
	SetupUser(ctx context.Context, address string) error
	TeardownUser()
}

// Notifier shows a notification to the user.
type Notifier interface {
	Push(ctx context.Context, note state.Notification) string
}

// ManagerOptions tunes a Manager. Zero values fall back to defaults.
type ManagerOptions struct {
	// PayloadTTL is how often the connect payload is refreshed while no
	// wallet is connected.
	PayloadTTL time.Duration
	Now        func() time.Time
}

// Manager owns the authenticated session: it validates or obtains the bearer
// token, starts the user views on login and tears everything down on logout.
type Manager struct {
	auth     AuthAPI
	tokens   TokenStore
	wallet   Wallet
	users    Users
	account  *state.Account
	notifier Notifier
	opts     ManagerOptions
	logger   *slog.Logger

	mu          sync.Mutex
	token       Token
	valid       bool
	expiry      *time.Timer
	stopRefresh context.CancelFunc
	refreshDone chan struct{}
}

// NewManager wires a Manager.
func NewManager(auth AuthAPI, tokens TokenStore, wallet Wallet, users Users, account *state.Account, notifier Notifier, opts ManagerOptions, logger *slog.Logger) *Manager {
	if opts.PayloadTTL <= 0 {
		opts.PayloadTTL = defaultPayloadTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		auth:     auth,
		tokens:   tokens,
		wallet:   wallet,
		users:    users,
		account:  account,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With(slog.String("component", "session")),
	}
}

// Restore brings the session in line with the stored token and the wallet.
// It is called at startup and whenever the wallet connection changes.
//
// A stored token is validated against the connected wallet and the session
// logs out when it is expired or issued for another address. Without a token
// a connected wallet's proof is exchanged for one. With no wallet at all the
// connect payload is refreshed every PayloadTTL until a wallet connects.
func (m *Manager) Restore(ctx context.Context) error {
	m.stopPayloadRefresh()

	raw, err := m.tokens.AuthToken(ctx)
	if err != nil {
		return fmt.Errorf("session: restore: %w", err)
	}
	account, connected := m.wallet.Account()

	if raw != "" {
		return m.accept(ctx, raw, account.Address)
	}

	if !connected {
		m.startPayloadRefresh()
		return nil
	}

	proof, ok := m.wallet.Proof()
	if !ok {
		m.Logout(ctx, ReasonProofUnsigned)
		return nil
	}

	raw = m.auth.CheckProof(ctx, account, proof)
	if raw == "" {
		m.Logout(ctx, ReasonNoToken)
		return nil
	}
	if err := m.accept(ctx, raw, account.Address); err != nil {
		return err
	}
	if !m.Valid() {
		return nil
	}
	if err := m.tokens.SetAuthToken(ctx, raw); err != nil {
		return fmt.Errorf("session: persist token: %w", err)
	}
	return nil
}

// accept validates raw for address and logs in, or logs out with the
// expired reason when the token is unusable.
func (m *Manager) accept(ctx context.Context, raw, address string) error {
	tok, err := ParseToken(raw)
	if err == nil {
		err = tok.Validate(m.opts.Now(), address)
	}
	if err != nil {
		m.logger.Info("token rejected",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		m.Logout(ctx, ReasonTokenExpired)
		return nil
	}
	return m.login(ctx, tok, address)
}

func (m *Manager) login(ctx context.Context, tok Token, address string) error {
	m.mu.Lock()
	m.token = tok
	m.valid = true
	m.armExpiryLocked(tok)
	m.mu.Unlock()

	m.account.SetAddress(address)
	if err := m.users.SetupUser(ctx, address); err != nil {
		m.abandonLogin()
		return fmt.Errorf("session: setup user: %w", err)
	}
	m.logger.Info("logged in",
		slog.String("address", address),
		slog.Time("expires_at", tok.ExpiresAt),
	)
	m.notifyConnected(ctx)
	return nil
}

// abandonLogin undoes a login whose user views failed to start. The stored
// token is kept so the next Restore can retry.
func (m *Manager) abandonLogin() {
	m.mu.Lock()
	m.valid = false
	m.token = Token{}
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
	m.mu.Unlock()

	m.users.TeardownUser()
	m.account.Reset()
}

func (m *Manager) notifyConnected(ctx context.Context) {
	shown, err := m.tokens.OnboardingShown(ctx)
	if err != nil {
		m.logger.Warn("read onboarding flag", slog.String("error", err.Error()))
	}
	if !shown {
		m.notifier.Push(ctx, state.Notification{
			Type:        state.NotificationSuccess,
			Title:       "Successfuly connected",
			Description: "Go through a little onboarding to quickly explore the features of the project",
			AutoDestroy: true,
			Actions:     []state.NotificationAction{{Name: "Skip Onboarding", Target: "/explore"}},
		})
		return
	}
	m.notifier.Push(ctx, state.Notification{
		Type:        state.NotificationSuccess,
		Title:       "Successfully connected",
		Description: "Wallet is connected and we recovered the previous page before login",
		AutoDestroy: true,
		Actions:     []state.NotificationAction{{Name: "Go to Explore", Target: "/"}},
	})
}

func (m *Manager) armExpiryLocked(tok Token) {
	if m.expiry != nil {
		m.expiry.Stop()
	}
	d := tok.ExpiresAt.Sub(m.opts.Now())
	m.expiry = time.AfterFunc(d, func() {
		m.Logout(context.Background(), ReasonTokenExpired)
	})
}

// Logout clears the stored token, disconnects the wallet, stops the user
// views, resets account state and tells the user why.
func (m *Manager) Logout(ctx context.Context, reason string) {
	m.mu.Lock()
	m.valid = false
	m.token = Token{}
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
	m.mu.Unlock()

	if err := m.tokens.ClearAuthToken(ctx); err != nil {
		m.logger.Warn("clear token", slog.String("error", err.Error()))
	}
	if err := m.wallet.Disconnect(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("disconnect wallet", slog.String("error", err.Error()))
	}
	m.users.TeardownUser()
	m.account.Reset()

	m.logger.Info("logged out", slog.String("reason", reason))
	m.notifier.Push(ctx, state.Notification{
		Type:        state.NotificationWarning,
		Title:       reason,
		Description: "Try connect wallet again.",
		AutoDestroy: true,
	})
}

// Valid reports whether the session currently holds a valid token.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid
}

// Token returns the active token; ok is false when logged out.
func (m *Manager) Token() (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.valid
}

func (m *Manager) startPayloadRefresh() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.stopRefresh = cancel
	m.refreshDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.opts.PayloadTTL)
		defer ticker.Stop()
		for {
			m.refreshPayload(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (m *Manager) refreshPayload(ctx context.Context) {
	m.wallet.SetConnectPayload("")
	payload := m.auth.GeneratePayload(ctx)
	if ctx.Err() != nil {
		return
	}
	m.wallet.SetConnectPayload(payload)
	if payload == "" {
		m.logger.Warn("no connect payload available")
	}
}

func (m *Manager) stopPayloadRefresh() {
	m.mu.Lock()
	cancel, done := m.stopRefresh, m.refreshDone
	m.stopRefresh, m.refreshDone = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Close stops the payload refresh loop and the expiry timer. It does not
// log out.
func (m *Manager) Close() {
	m.stopPayloadRefresh()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
}
