package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/retry"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

const (
	DefaultPageSize       = 1000
	DefaultRequestTimeout = 30 * time.Second
	// DefaultMaxConsecutiveGaps stops an unbounded crawl when the indexer keeps failing
	DefaultMaxConsecutiveGaps = 3
)

// ClientConfig describes one paginated balance query against a graph indexer.
type ClientConfig struct {
	Source   string
	Endpoint string
	// Query is a GraphQL document taking $first and $skip
	Query        string
	ResultField  string
	AccountField string
	BalanceField string
	PageSize     int
	// MaxPages 0 pages until a short page is returned
	MaxPages           int
	MaxConsecutiveGaps int
}

// Client pages through a graph indexer with first/skip pagination.
type Client struct {
	httpClient *http.Client
	config     *ClientConfig
	policy     *retry.Policy
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Page is the decoded content of one indexer page.
type Page struct {
	Skip  int
	First int
	Rows  []*types.GraphBalanceRow
	// Invalid counts rows dropped by validation
	Invalid int
	// Raw is the number of rows the indexer returned, valid or not
	Raw int
}

// FetchResult is every valid row of a crawl plus the pages given up on.
type FetchResult struct {
	Source  string
	Rows    []*types.GraphBalanceRow
	Gaps    []types.Gap
	Pages   int
	Invalid int
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphError struct {
	Message string `json:"message"`
}

type graphResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []graphError               `json:"errors"`
}

// NewClient creates an indexer client. limiter may be nil to disable request pacing.
func NewClient(cfg *ClientConfig, policy *retry.Policy, limiter *rate.Limiter, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("client config cannot be nil")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if cfg.ResultField == "" {
		return nil, fmt.Errorf("result field is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	c := *cfg
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.AccountField == "" {
		c.AccountField = "id"
	}
	if c.BalanceField == "" {
		c.BalanceField = "balance"
	}
	if c.MaxConsecutiveGaps <= 0 {
		c.MaxConsecutiveGaps = DefaultMaxConsecutiveGaps
	}
	if policy == nil {
		policy = retry.DefaultPolicy(logger)
	}

	return &Client{
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		config:     &c,
		policy:     policy,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

func (c *Client) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

// FetchAll pages from skip 0 until a short page, MaxPages, or too many consecutive failed pages.
// A page that fails after every retry becomes a gap and paging moves on to the next page.
func (c *Client) FetchAll(ctx context.Context) (*FetchResult, error) {
	result := &FetchResult{Source: c.config.Source}
	consecutiveGaps := 0

	for page := 0; c.config.MaxPages == 0 || page < c.config.MaxPages; page++ {
		skip := page * c.config.PageSize

		p, err := c.FetchPage(ctx, skip, c.config.PageSize)
		result.Pages++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("indexer crawl of %s aborted: %w", c.config.Source, ctxErr)
			}
			result.Gaps = append(result.Gaps, types.Gap{
				Source:   c.config.Source,
				Kind:     types.GapKindPage,
				Skip:     skip,
				First:    c.config.PageSize,
				Attempts: retry.Attempts(err),
				Error:    err.Error(),
			})
			c.logger.Sugar().Errorw("Giving up on indexer page, recording gap",
				"source", c.config.Source,
				"skip", skip,
				"first", c.config.PageSize,
				"error", err,
			)
			consecutiveGaps++
			if consecutiveGaps >= c.config.MaxConsecutiveGaps {
				c.logger.Sugar().Warnw("Stopping indexer crawl after consecutive failed pages",
					"source", c.config.Source,
					"failedPages", consecutiveGaps,
				)
				break
			}
			continue
		}
		consecutiveGaps = 0

		result.Rows = append(result.Rows, p.Rows...)
		result.Invalid += p.Invalid
		if p.Raw < c.config.PageSize {
			break
		}
	}

	c.logger.Sugar().Infow("Finished indexer crawl",
		"source", c.config.Source,
		"rows", len(result.Rows),
		"pages", result.Pages,
		"invalid", result.Invalid,
		"gaps", len(result.Gaps),
	)
	return result, nil
}

// FetchPage queries a single page under the retry policy.
func (c *Client) FetchPage(ctx context.Context, skip, first int) (*Page, error) {
	var page *Page
	op := fmt.Sprintf("graph query %s skip=%d first=%d", c.config.Source, skip, first)
	err := c.policy.Do(ctx, op, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		raw, err := c.query(ctx, skip, first)
		if err != nil {
			return err
		}
		p := c.decodePage(raw)
		p.Skip, p.First = skip, first
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) query(ctx context.Context, skip, first int) ([]json.RawMessage, error) {
	body, err := json.Marshal(&graphRequest{
		Query:     c.config.Query,
		Variables: map[string]any{"first": first, "skip": skip},
	})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to marshal graph request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("graph endpoint returned status %d: %s", resp.StatusCode, truncate(respBody, 200))
		// 4xx other than rate limiting will not improve on retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var gr graphResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to decode graph response: %w", err))
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("graph query errors: %s", strings.Join(msgs, "; "))
	}

	field, ok := gr.Data[c.config.ResultField]
	if !ok {
		return nil, retry.Permanent(fmt.Errorf("graph response has no field %q", c.config.ResultField))
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(field, &rows); err != nil {
		return nil, retry.Permanent(fmt.Errorf("graph field %q is not a list: %w", c.config.ResultField, err))
	}
	return rows, nil
}

// decodePage validates each row at the boundary. Bad rows are dropped and counted.
func (c *Client) decodePage(raw []json.RawMessage) *Page {
	page := &Page{Raw: len(raw), Rows: make([]*types.GraphBalanceRow, 0, len(raw))}
	for _, r := range raw {
		row, err := c.decodeRow(r)
		if err == nil {
			err = row.Validate()
		}
		if err != nil {
			c.logger.Sugar().Warnw("Dropping invalid indexer row",
				"source", c.config.Source,
				"row", truncate(r, 200),
				"error", err,
			)
			page.Invalid++
			continue
		}
		page.Rows = append(page.Rows, row)
	}
	return page
}

func (c *Client) decodeRow(raw json.RawMessage) (*types.GraphBalanceRow, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("row is not an object: %w", err)
	}

	accountRaw, ok := fields[c.config.AccountField]
	if !ok {
		return nil, fmt.Errorf("row has no %q field", c.config.AccountField)
	}
	var account string
	if err := json.Unmarshal(accountRaw, &account); err != nil {
		return nil, fmt.Errorf("row field %q is not a string", c.config.AccountField)
	}

	balanceRaw, ok := fields[c.config.BalanceField]
	if !ok {
		return nil, fmt.Errorf("row has no %q field", c.config.BalanceField)
	}
	balance, err := ParseBalance(balanceRaw)
	if err != nil {
		return nil, fmt.Errorf("row field %q: %w", c.config.BalanceField, err)
	}

	return &types.GraphBalanceRow{Account: account, Balance: balance}, nil
}

// ParseBalance accepts an unsigned decimal or 0x-hex string, or a JSON integer. Indexers usually
// send BigInt values as strings since they overflow float64. Signs, underscores and other
// prefixes are rejected; zero-padded values are decimal.
func ParseBalance(raw json.RawMessage) (*big.Int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, fmt.Errorf("balance is missing")
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, fmt.Errorf("invalid balance %s", s)
		}
		s = strings.TrimSpace(str)
	}

	digits, base := s, 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits, base = s[2:], 16
	}
	if digits == "" || !onlyDigits(digits, base) {
		return nil, fmt.Errorf("balance %q is not an unsigned integer", s)
	}
	v, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("balance %q is not an unsigned integer", s)
	}
	return v, nil
}

func onlyDigits(s string, base int) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case base == 16 && (r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F'):
		default:
			return false
		}
	}
	return true
}

// Contributions converts every fetched row into a set-mode contribution for the source.
func (r *FetchResult) Contributions() *types.ContributionBatch {
	batch := &types.ContributionBatch{Source: r.Source, Groups: make([]types.ContributionGroup, 0, len(r.Rows))}
	for _, row := range r.Rows {
		batch.Add(row.Contribution(r.Source))
	}
	return batch
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
