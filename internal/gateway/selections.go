package gateway

import "github.com/alanyoungcy/justersync/internal/platform/indexer"

var (
	marketFields = indexer.Fields("id", "symbol", "totalEvents", "totalVolume", "totalValueLocked")

	quoteFields = indexer.Fields("currencyPairId", "price", "timestamp")

	tvlFields = indexer.Fields("eventId", "cumSum", "createdTime", "amount")

	betFields = indexer.Fields("id", "side", "reward", "amount", "createdTime", "userId", "eventId", "opgHash")

	depositFields = indexer.Fields("amountAboveEq", "amountBelow", "eventId", "id", "userId", "createdTime", "shares", "opgHash")

	eventFields = append(indexer.Fields(
		"id", "status", "betsCloseTime", "creatorId",
		"poolAboveEq", "poolBelow", "totalBetsAmount",
		"totalLiquidityProvided", "totalLiquidityShares", "totalValueLocked",
		"liquidityPercent", "measurePeriod", "closedOracleTime", "measureOracleStartTime",
		"createdTime", "startRate", "closedRate", "winnerBets", "targetDynamics",
	),
		indexer.F("currencyPair", indexer.Fields("symbol", "id")...),
		indexer.F("bets", betFields...),
		indexer.F("deposits", depositFields...),
	)

	positionFields = append(indexer.Fields(
		"id", "userId", "eventId", "value", "withdrawn",
		"rewardAboveEq", "rewardBelow",
		"providedLiquidityAboveEq", "providedLiquidityBelow", "liquidityProvided",
	),
		indexer.F("event", eventFields...),
	)

	participantFields = indexer.Fields(
		"userId", "eventId",
		"providedLiquidityAboveEq", "providedLiquidityBelow",
		"rewardAboveEq", "rewardBelow",
	)

	userFields = indexer.Fields(
		"address", "totalBetsAmount", "totalBetsCount", "totalFeesCollected",
		"totalLiquidityProvided", "totalProviderReward", "totalReward", "totalWithdrawn",
	)

	withdrawalFields = append(indexer.Fields(
		"id", "amount", "createdTime", "feeCollectorId", "type", "opgHash", "userId",
	),
		indexer.F("event", indexer.Fields("id", "closedOracleTime")...),
	)

	balanceFields = indexer.Fields("address", "balance", "lockedAmount")

	poolFields = indexer.Fields("address", "name", "version", "isDepositPaused", "entryLockPeriod")

	poolLineFields = indexer.Fields(
		"id", "poolId", "currencyPairId", "measurePeriod", "betsCloseTimeStep",
		"maxEvents", "targetDynamics", "liquidityPercent", "isDisabled",
	)

	poolStateFields = indexer.Fields(
		"id", "poolId", "level", "counter", "action",
		"activeLiquidity", "entryLiquidity", "withdrawableLiquidity",
		"totalLiquidity", "totalShares", "sharePrice", "timestamp", "opgHash",
	)
)
