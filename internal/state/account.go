package state

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/justersync/internal/domain"
)

// Account is the typed facade over the user-scoped views.
type Account struct {
	s *Store
}

// NewAccount returns the account facade of s.
func NewAccount(s *Store) *Account {
	return &Account{s: s}
}

// SetAddress sets the active address.
func (a *Account) SetAddress(address string) {
	a.s.PatchScalar(KeyAccount, map[string]any{"address": address})
}

// Address returns the active address, empty when logged out.
func (a *Account) Address() string {
	addr, _ := a.s.Scalar(KeyAccount)["address"].(string)
	return addr
}

// LoggedIn reports whether an address is active.
func (a *Account) LoggedIn() bool {
	return a.Address() != ""
}

// SetPositionsLoading flags whether the withdrawable positions are still
// being fetched.
func (a *Account) SetPositionsLoading(loading bool) {
	a.s.PatchScalar(KeyAccount, map[string]any{"positionsLoading": loading})
}

// PositionsLoading reports the flag set by SetPositionsLoading.
func (a *Account) PositionsLoading() bool {
	v, _ := a.s.Scalar(KeyAccount)["positionsLoading"].(bool)
	return v
}

// SetBalance replaces the balance and locked amount.
func (a *Account) SetBalance(b domain.Balance) {
	a.s.PatchScalar(KeyBalance, map[string]any{
		"balance":      b.Balance,
		"lockedAmount": b.LockedAmount,
	})
}

// Balance returns the last known balance of the active address.
func (a *Account) Balance() domain.Balance {
	rec := a.s.Scalar(KeyBalance)
	b := domain.Balance{Address: a.Address()}
	b.Balance, _ = rec["balance"].(decimal.Decimal)
	b.LockedAmount, _ = rec["lockedAmount"].(decimal.Decimal)
	return b
}

// SetPositionsForWithdrawal replaces the withdrawable positions.
func (a *Account) SetPositionsForWithdrawal(positions []domain.Position) {
	a.s.SetCollection(KeyPositionsForWithdrawal, AsRows(positions))
}

// PositionsForWithdrawal returns the withdrawable positions.
func (a *Account) PositionsForWithdrawal() []domain.Position {
	return Rows[domain.Position](a.s, KeyPositionsForWithdrawal)
}

// AddPositionForWithdrawal appends p unless a position with its id is
// already present.
func (a *Account) AddPositionForWithdrawal(p domain.Position) bool {
	return a.s.AppendUnique(KeyPositionsForWithdrawal, p)
}

// RemovePosition drops a position from the withdrawable set. It is a no-op
// when the id is absent.
func (a *Account) RemovePosition(id int64) bool {
	return a.s.RemoveByID(KeyPositionsForWithdrawal, strconv.FormatInt(id, 10))
}

// HasPosition reports whether the withdrawable set contains id.
func (a *Account) HasPosition(id int64) bool {
	return a.s.Has(KeyPositionsForWithdrawal, strconv.FormatInt(id, 10))
}

// WonPositions returns the withdrawable positions with a non-zero value.
func (a *Account) WonPositions() []domain.Position {
	var won []domain.Position
	for _, p := range a.PositionsForWithdrawal() {
		if !p.Value.IsZero() {
			won = append(won, p)
		}
	}
	return won
}

// SetWithdrawals replaces the withdrawal history.
func (a *Account) SetWithdrawals(ws []domain.Withdrawal) {
	a.s.SetCollection(KeyWithdrawals, AsRows(ws))
}

// Withdrawals returns the withdrawal history.
func (a *Account) Withdrawals() []domain.Withdrawal {
	return Rows[domain.Withdrawal](a.s, KeyWithdrawals)
}

// AddWithdrawal appends w unless its id is already recorded.
func (a *Account) AddWithdrawal(w domain.Withdrawal) bool {
	return a.s.AppendUnique(KeyWithdrawals, w)
}

// Reset drops every user-scoped view.
func (a *Account) Reset() {
	for _, k := range accountKeys {
		a.s.Clear(k)
	}
}
