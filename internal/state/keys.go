package state

// Keys of the views the application maintains. Per-market keys are built
// with QuotesKey and MarketKey.
const (
	KeyMarkets     Key = "markets"
	KeyMarketsMeta Key = "markets:meta"

	KeyActiveEvents       Key = "events:active"
	KeyTopEvents          Key = "events:top"
	KeyFilteredEvents     Key = "events:filtered"
	KeyParticipatedEvents Key = "events:participated"

	KeyAccount                Key = "account"
	KeyBalance                Key = "account:balance"
	KeyPositionsForWithdrawal Key = "account:positions_for_withdrawal"
	KeyWithdrawals            Key = "account:withdrawals"

	KeyNotifications Key = "notifications"
)

// QuotesKey is the newest-first quote history of a market.
func QuotesKey(symbol string) Key { return Key("quotes:" + symbol) }

// MarketKey is the scalar record (history price) of a market.
func MarketKey(symbol string) Key { return Key("market:" + symbol) }

// accountKeys are the user-scoped keys dropped on logout.
var accountKeys = []Key{
	KeyAccount,
	KeyBalance,
	KeyPositionsForWithdrawal,
	KeyWithdrawals,
	KeyParticipatedEvents,
}
