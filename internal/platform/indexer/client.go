// Package indexer is the GraphQL transport to the prediction-market indexer.
// Queries go over HTTP, subscriptions over one shared graphql-transport-ws
// connection. Documents are rendered from typed Query values through a Schema,
// and rows come back with canonical field names whatever the wire schema.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"golang.org/x/time/rate"
)

// Options configures a Client.
type Options struct {
	// GraphQLURL is the HTTP endpoint, e.g. "http://localhost:5501/v1/graphql".
	GraphQLURL string
	// WSURL is the subscription endpoint. Defaults to GraphQLURL with a ws scheme.
	WSURL string
	// Schema selects the wire naming. Defaults to SchemaV2.
	Schema *Schema
	// RatePerSec bounds outgoing HTTP queries. Zero disables the limit.
	RatePerSec float64
	Logger     *slog.Logger
}

// Client talks to one indexer deployment.
type Client struct {
	graphqlURL string
	wsURL      string
	schema     *Schema
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	wsOnce sync.Once
	ws     *subscriber
}

// NewClient creates an indexer client. No connection is opened until the
// first Subscribe.
func NewClient(opts Options) *Client {
	schema := opts.Schema
	if schema == nil {
		schema = SchemaV2
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSec > 0 {
		burst := int(opts.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	wsURL := opts.WSURL
	if wsURL == "" {
		wsURL = httpToWS(opts.GraphQLURL)
	}
	return &Client{
		graphqlURL: opts.GraphQLURL,
		wsURL:      wsURL,
		schema:     schema,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
		logger:  logger.With(slog.String("component", "indexer")),
	}
}

// Schema returns the wire schema used by c.
func (c *Client) Schema() *Schema { return c.schema }

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

type graphqlError struct {
	Message string `json:"message"`
}

func joinErrors(errs []graphqlError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// Query runs q once and returns the rows of its root field with canonical
// field names. A missing root decodes as JSON null.
func (c *Client) Query(ctx context.Context, q Query) (json.RawMessage, error) {
	doc, err := q.Document(c.schema, "query")
	if err != nil {
		return nil, fmt.Errorf("indexer: query %s: %w", q.Entity, err)
	}
	data, err := c.doQuery(ctx, doc, nil)
	if err != nil {
		return nil, fmt.Errorf("indexer: query %s: %w", q.Entity, err)
	}
	rows, err := c.schema.rootRows(data, q.Entity)
	if err != nil {
		return nil, fmt.Errorf("indexer: query %s: %w", q.Entity, err)
	}
	return rows, nil
}

// Subscribe opens a live subscription for q on the shared connection and
// calls handler with the root rows of every pushed result, in receipt order.
func (c *Client) Subscribe(ctx context.Context, q Query, handler Handler) (*Subscription, error) {
	doc, err := q.Document(c.schema, "subscription")
	if err != nil {
		return nil, fmt.Errorf("indexer: subscribe %s: %w", q.Entity, err)
	}
	c.wsOnce.Do(func() {
		c.ws = newSubscriber(c.wsURL, c.schema, c.logger)
	})
	if c.ws == nil {
		return nil, fmt.Errorf("indexer: subscribe %s: %w", q.Entity, domain.ErrWSDisconnect)
	}
	sub, err := c.ws.subscribe(ctx, q.Entity, doc, handler)
	if err != nil {
		return nil, fmt.Errorf("indexer: subscribe %s: %w", q.Entity, err)
	}
	return sub, nil
}

// Close shuts the subscription connection down. Queries keep working.
func (c *Client) Close() error {
	c.wsOnce.Do(func() {})
	if c.ws == nil {
		return nil
	}
	return c.ws.close()
}

// doQuery executes a GraphQL document and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql errors: %s", joinErrors(gqlResp.Errors))
	}
	return gqlResp.Data, nil
}

// rootRows picks the entity's root field out of a data object and renames
// its keys to canonical names.
func (s *Schema) rootRows(data json.RawMessage, e Entity) (json.RawMessage, error) {
	if len(data) == 0 || string(data) == "null" {
		return json.RawMessage("null"), nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	rows, ok := fields[s.Root(e)]
	if !ok {
		return json.RawMessage("null"), nil
	}
	return s.canonicalize(rows)
}

func httpToWS(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
