package indexer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_TopEventsV2(t *testing.T) {
	q := Query{
		Entity:  EntityEvent,
		Where:   Cond{"status": Eq("NEW")},
		OrderBy: []Order{Desc("bets_aggregate", "count"), Desc("id")},
		Limit:   3,
		Fields:  Fields("id", "status"),
	}

	doc, err := q.Document(SchemaV2, "query")
	require.NoError(t, err)
	assert.Equal(t,
		`query { event(where: {status: {_eq: "NEW"}}, order_by: [{bets_aggregate: {count: desc}}, {id: desc}], limit: 3) { id status } }`,
		doc)
}

func TestDocument_QuoteSubscriptionV1(t *testing.T) {
	q := Query{
		Entity:  EntityQuote,
		Where:   Cond{"currencyPairId": Eq(int64(2))},
		OrderBy: []Order{Desc("timestamp")},
		Limit:   1,
		Fields:  Fields("currencyPairId", "price", "timestamp"),
	}

	doc, err := q.Document(SchemaV1, "subscription")
	require.NoError(t, err)
	assert.Equal(t,
		`subscription { quotes_wma(where: {currency_pair_id: {_eq: 2}}, order_by: [{timestamp: desc}], limit: 1) { currency_pair_id price timestamp } }`,
		doc)
}

func TestDocument_NestedConditionAndSelection(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	q := Query{
		Entity: EntityPosition,
		Where: Cond{
			"userId":    Eq("tz1abc"),
			"withdrawn": Eq(false),
			"value":     Neq(0),
			"event":     Cond{"status": Eq("FINISHED"), "createdTime": Ops{Gte(from)}},
		},
		Offset: 10,
		Fields: []Field{F("id"), F("event", F("id"), F("betsCloseTime"))},
	}

	doc, err := q.Document(SchemaV1, "query")
	require.NoError(t, err)
	assert.Equal(t,
		`query { position(where: {event: {created_time: {_gte: "2024-05-01T00:00:00Z"}, status: {_eq: "FINISHED"}}, user_id: {_eq: "tz1abc"}, value: {_neq: 0}, withdrawn: {_eq: false}}, offset: 10) { id event { id bets_close_time } } }`,
		doc)
}

func TestDocument_PrimaryKey(t *testing.T) {
	q := Query{Entity: EntityEventByPK, PK: int64(7), Fields: Fields("id")}
	doc, err := q.Document(SchemaV2, "query")
	require.NoError(t, err)
	assert.Equal(t, `query { eventByPk(id: 7) { id } }`, doc)
}

func TestDocument_Errors(t *testing.T) {
	_, err := Query{Entity: EntityEvent}.Document(SchemaV2, "query")
	assert.Error(t, err)

	_, err = Query{Entity: EntityEvent, Where: Cond{"id": "raw"}, Fields: Fields("id")}.Document(SchemaV2, "query")
	assert.Error(t, err)

	_, err = Query{Entity: EntityEvent, Where: Cond{"id": Eq(struct{}{})}, Fields: Fields("id")}.Document(SchemaV2, "query")
	assert.Error(t, err)
}

func TestSchema_NameConversion(t *testing.T) {
	assert.Equal(t, "currency_pair_id", SchemaV1.Wire("currencyPairId"))
	assert.Equal(t, "bets_close_time", SchemaV1.Wire("betsCloseTime"))
	assert.Equal(t, "_eq", SchemaV1.Wire("_eq"))
	assert.Equal(t, "betsCloseTime", SchemaV2.Wire("betsCloseTime"))

	assert.Equal(t, "currencyPairId", SchemaV1.Canonical("currency_pair_id"))
	assert.Equal(t, "opgHash", SchemaV1.Canonical("opg_hash"))
	assert.Equal(t, "bets_aggregate", SchemaV1.Canonical("bets_aggregate"))
	assert.Equal(t, "closedOracleTime", SchemaV1.Canonical("closed_oracle_time"))
	assert.Equal(t, "id", SchemaV1.Canonical("id"))
}

func TestSchema_RootRowsCanonicalizes(t *testing.T) {
	data := json.RawMessage(`{"withdrawal":[{"id":1,"opg_hash":"oo1","amount":123456789012345678901234,"event":{"closed_oracle_time":"2024-01-01T00:00:00Z"}}]}`)

	rows, err := SchemaV1.rootRows(data, EntityWithdrawal)
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rows, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "oo1", got[0]["opgHash"])
	assert.Contains(t, string(rows), "123456789012345678901234")
	assert.Equal(t, "2024-01-01T00:00:00Z", got[0]["event"].(map[string]any)["closedOracleTime"])
}

func TestSchema_RootRowsMissingRoot(t *testing.T) {
	rows, err := SchemaV2.rootRows(json.RawMessage(`{"other":[]}`), EntityEvent)
	require.NoError(t, err)
	assert.Equal(t, "null", string(rows))

	rows, err = SchemaV2.rootRows(nil, EntityEvent)
	require.NoError(t, err)
	assert.Equal(t, "null", string(rows))
}

func TestSchemaByName(t *testing.T) {
	s, err := SchemaByName("")
	require.NoError(t, err)
	assert.Same(t, SchemaV2, s)

	s, err = SchemaByName(" V1 ")
	require.NoError(t, err)
	assert.Same(t, SchemaV1, s)

	_, err = SchemaByName("v3")
	assert.Error(t, err)
}
