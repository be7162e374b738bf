// Package livesync keeps the state store in step with the indexer. Each live
// view runs one fetch-then-subscribe lifecycle and merges pushes with a
// view-specific rule; the Syncer starts and stops views as markets load and
// users log in or out.
package livesync

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/metrics"
	"github.com/alanyoungcy/justersync/internal/state"
)

// MarketInfo is the display metadata of a supported market.
type MarketInfo struct {
	Target      string
	Description string
}

// Options tunes the Syncer. Zero values fall back to the defaults.
type Options struct {
	// Supported lists the markets to follow, keyed by symbol.
	Supported map[string]MarketInfo
	// QuoteHistory is how many quotes seed each market.
	QuoteHistory int
	// HistoryWindow is how far back the reference price is taken.
	HistoryWindow time.Duration
	// TopEvents is the size of the top events view.
	TopEvents int
	QuoteSink QuoteSink
	Now       func() time.Time
}

const (
	defaultQuoteHistory  = 1000
	defaultHistoryWindow = 7 * 24 * time.Hour
	defaultTopEvents     = 3
)

// DefaultMarkets are the markets followed when none are configured.
var DefaultMarkets = map[string]MarketInfo{
	"ETH-USD": {Target: "Ethereum", Description: "Ethereum / U.S. Dollar"},
	"BTC-USD": {Target: "Bitcoin", Description: "Bitcoin / U.S. Dollar"},
	"TON-USD": {Target: "TON", Description: "TON / U.S. Dollar"},
}

// Syncer orchestrates the live views of one application.
type Syncer struct {
	gw      Gateway
	store   *state.Store
	markets *state.Markets
	account *state.Account
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger

	Top          *TopEvents
	Filtered     *FilteredEvents
	Active       *ActiveEvents
	Participated *ParticipatedEvents
	Positions    *PositionsForWithdrawal
	Balance      *Balance
	Withdrawals  *Withdrawals

	mu     sync.Mutex
	quotes map[string]*MarketQuotes
	user   string
}

// NewSyncer creates a Syncer writing into store. m may be nil.
func NewSyncer(gw Gateway, store *state.Store, opts Options, m *metrics.Metrics, logger *slog.Logger) *Syncer {
	if opts.QuoteHistory <= 0 {
		opts.QuoteHistory = defaultQuoteHistory
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	if opts.TopEvents <= 0 {
		opts.TopEvents = defaultTopEvents
	}
	if len(opts.Supported) == 0 {
		opts.Supported = DefaultMarkets
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "livesync"))

	markets := state.NewMarkets(store)
	account := state.NewAccount(store)
	return &Syncer{
		gw:           gw,
		store:        store,
		markets:      markets,
		account:      account,
		opts:         opts,
		metrics:      m,
		logger:       logger,
		Top:          newTopEvents(gw, markets, m, logger),
		Filtered:     newFilteredEvents(gw, markets, m, logger),
		Active:       newActiveEvents(gw, markets, m, logger),
		Participated: newParticipatedEvents(gw, markets, m, logger),
		Positions:    newPositionsForWithdrawal(gw, account, m, logger),
		Balance:      newBalance(gw, account, m, logger),
		Withdrawals:  newWithdrawals(gw, account, m, logger),
		quotes:       make(map[string]*MarketQuotes),
	}
}

// Markets returns the market facade the syncer writes to.
func (s *Syncer) Markets() *state.Markets { return s.markets }

// Account returns the account facade the syncer writes to.
func (s *Syncer) Account() *state.Account { return s.account }

// SetupMarkets loads the supported markets and starts one quote view per
// market. Markets are loaded once; later calls only restart the quote views.
// s.mu only guards the view table; fetches run without it.
func (s *Syncer) SetupMarkets(ctx context.Context) error {
	if !s.markets.Loaded() {
		fetched := s.gw.Markets(ctx)
		s.mu.Lock()
		if !s.markets.Loaded() {
			for _, m := range fetched {
				info, ok := s.opts.Supported[m.Symbol]
				if !ok {
					continue
				}
				m.Target = info.Target
				m.Description = info.Description
				s.markets.SetMarket(m)
			}
			s.markets.MarkLoaded()
		}
		s.mu.Unlock()
	}

	markets := s.markets.Markets()
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })

	views := make([]*MarketQuotes, len(markets))
	s.mu.Lock()
	for i, m := range markets {
		v, ok := s.quotes[m.Symbol]
		if !ok {
			v = newMarketQuotes(s.gw, s.markets, m, s.opts, s.metrics, s.logger)
			s.quotes[m.Symbol] = v
		}
		views[i] = v
	}
	s.mu.Unlock()

	var errs []error
	for i, v := range views {
		if err := v.Start(ctx); err != nil {
			s.logger.Error("start quote view",
				slog.String("market", markets[i].Symbol),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	s.logger.Info("markets ready", slog.Int("markets", len(markets)))
	return errors.Join(errs...)
}

// QuoteView returns the quote view of a loaded market.
func (s *Syncer) QuoteView(symbol string) (*MarketQuotes, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.quotes[symbol]
	return v, ok
}

// SetupEvents starts the top and active events views.
func (s *Syncer) SetupEvents(ctx context.Context) error {
	return errors.Join(
		s.Top.Start(ctx, s.opts.TopEvents),
		s.Active.Start(ctx),
	)
}

// SetupUser (re)starts every user-scoped view for address.
func (s *Syncer) SetupUser(ctx context.Context, address string) error {
	if address == "" {
		return domain.ErrInvalidArgument
	}
	s.mu.Lock()
	s.user = address
	s.mu.Unlock()

	err := errors.Join(
		s.Positions.Start(ctx, address),
		s.Withdrawals.Start(ctx, address),
		s.Balance.Start(ctx, address),
		s.Participated.Start(ctx, address),
	)
	if err != nil {
		s.logger.Error("setup user", slog.String("address", address), slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("user views started", slog.String("address", address))
	return nil
}

// User returns the address the user views follow, empty when none.
func (s *Syncer) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// TeardownUser stops every user-scoped view.
func (s *Syncer) TeardownUser() {
	s.Positions.Stop()
	s.Withdrawals.Stop()
	s.Balance.Stop()
	s.Participated.Stop()

	s.mu.Lock()
	s.user = ""
	s.mu.Unlock()
}

// Close stops every view.
func (s *Syncer) Close() {
	s.TeardownUser()
	s.Top.Stop()
	s.Filtered.Stop()
	s.Active.Stop()

	s.mu.Lock()
	views := make([]*MarketQuotes, 0, len(s.quotes))
	for _, v := range s.quotes {
		views = append(views, v)
	}
	s.mu.Unlock()
	for _, v := range views {
		v.Stop()
	}
}
