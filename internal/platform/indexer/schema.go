package indexer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// Entity is a logical root of the indexer schema.
type Entity string

const (
	EntityMarket     Entity = "market"
	EntityQuote      Entity = "quote"
	EntityEvent      Entity = "event"
	EntityEventByPK  Entity = "eventByPk"
	EntityPosition   Entity = "position"
	EntityWithdrawal Entity = "withdrawal"
	EntityUser       Entity = "user"
	EntityBalance    Entity = "balance"
	EntityTVL        Entity = "tvl"
	EntityMarketByPK Entity = "marketByPk"
	EntityBet        Entity = "bet"
	EntityDeposit    Entity = "deposit"
	EntityPool       Entity = "pool"
	EntityPoolLine   Entity = "poolLine"
	EntityPoolState  Entity = "poolState"
)

// Schema is the field-mapping table of one indexer schema revision. Code in
// this module speaks canonical names only; the schema translates them into
// wire names when rendering documents and back when decoding responses.
type Schema struct {
	Name string
	// Roots maps each entity to its root field.
	Roots map[Entity]string
	// Fields overrides single canonical field names.
	Fields map[string]string
	// Snake converts canonical camelCase names to snake_case when no
	// override exists.
	Snake bool

	once    sync.Once
	reverse map[string]string
}

// SchemaV2 is the current indexer schema and the canonical naming.
var SchemaV2 = &Schema{
	Name: "v2",
	Roots: map[Entity]string{
		EntityMarket:     "currencyPair",
		EntityQuote:      "quotesWma",
		EntityEvent:      "event",
		EntityEventByPK:  "eventByPk",
		EntityPosition:   "position",
		EntityWithdrawal: "withdrawal",
		EntityUser:       "user",
		EntityBalance:    "userBalance",
		EntityTVL:        "totalValueLocked",
		EntityMarketByPK: "currencyPairByPk",
		EntityBet:        "bet",
		EntityDeposit:    "deposit",
		EntityPool:       "pool",
		EntityPoolLine:   "poolLine",
		EntityPoolState:  "poolState",
	},
}

// SchemaV1 is the older snake_case revision of the indexer.
var SchemaV1 = &Schema{
	Name: "v1",
	Roots: map[Entity]string{
		EntityMarket:     "currency_pair",
		EntityQuote:      "quotes_wma",
		EntityEvent:      "event",
		EntityEventByPK:  "event_by_pk",
		EntityPosition:   "position",
		EntityWithdrawal: "withdrawal",
		EntityUser:       "user",
		EntityBalance:    "user_balance",
		EntityTVL:        "total_value_locked",
		EntityMarketByPK: "currency_pair_by_pk",
		EntityBet:        "bet",
		EntityDeposit:    "deposit",
		EntityPool:       "pool",
		EntityPoolLine:   "pool_line",
		EntityPoolState:  "pool_state",
	},
	Fields: map[string]string{
		"currencyPairId": "currency_pair_id",
		"opgHash":        "opg_hash",
		"bets_aggregate": "bets_aggregate",
	},
	Snake: true,
}

// SchemaByName resolves a configured schema name.
func SchemaByName(name string) (*Schema, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "v2":
		return SchemaV2, nil
	case "v1":
		return SchemaV1, nil
	default:
		return nil, fmt.Errorf("indexer: unknown schema %q (valid: v1, v2)", name)
	}
}

// Root returns the wire root field of e.
func (s *Schema) Root(e Entity) string {
	if r, ok := s.Roots[e]; ok {
		return r
	}
	return s.Wire(string(e))
}

// Wire translates a canonical field name into its wire name.
func (s *Schema) Wire(name string) string {
	if w, ok := s.Fields[name]; ok {
		return w
	}
	if s.Snake && !strings.HasPrefix(name, "_") {
		return camelToSnake(name)
	}
	return name
}

// Canonical translates a wire field name back into its canonical name.
func (s *Schema) Canonical(wire string) string {
	s.once.Do(func() {
		s.reverse = make(map[string]string, len(s.Fields))
		for c, w := range s.Fields {
			s.reverse[w] = c
		}
	})
	if c, ok := s.reverse[wire]; ok {
		return c
	}
	if s.Snake {
		return snakeToCamel(wire)
	}
	return wire
}

// canonicalize rewrites every object key of a decoded JSON tree into its
// canonical name. Rows of a canonical schema are returned unchanged.
func (s *Schema) canonicalize(raw json.RawMessage) (json.RawMessage, error) {
	if !s.Snake && len(s.Fields) == 0 {
		return raw, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	out, err := json.Marshal(s.rename(tree))
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return out, nil
}

func (s *Schema) rename(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[s.Canonical(k)] = s.rename(val)
		}
		return m
	case []any:
		for i := range t {
			t[i] = s.rename(t[i])
		}
		return t
	default:
		return v
	}
}

func camelToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") || strings.HasPrefix(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
