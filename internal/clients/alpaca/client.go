// Package alpaca provides a thin client for the market-data vendor's daily
// bars endpoint. One multi-symbol request covers every ticker a backtest
// needs; the fetch pipeline above decides what to ask for.
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/hindsight/internal/domain"
)

// Per-request limit accepted by the vendor; larger windows page.
const pageLimit = 10000

// Client for the vendor bars API.
type Client struct {
	baseURL string
	keyID   string
	secret  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a vendor bars client.
func NewClient(baseURL, keyID, secret string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		keyID:   keyID,
		secret:  secret,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "alpaca").Logger(),
	}
}

// wireBar is the vendor's bar shape. The date is the first 10 chars of t.
type wireBar struct {
	T string  `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type barsResponse struct {
	Bars          map[string][]wireBar `json:"bars"`
	NextPageToken *string              `json:"next_page_token"`
}

// GetDailyBars fetches adjusted daily bars for all symbols over [start, end]
// in a single paged call. Symbols with no data in the window are simply
// absent from the result; that is not an error.
func (c *Client) GetDailyBars(ctx context.Context, symbols []string, start, end string) (map[string][]domain.Bar, error) {
	if len(symbols) == 0 {
		return map[string][]domain.Bar{}, nil
	}

	result := make(map[string][]domain.Bar, len(symbols))
	pageToken := ""

	for {
		q := url.Values{}
		q.Set("symbols", strings.Join(symbols, ","))
		q.Set("start", start)
		q.Set("end", end)
		q.Set("timeframe", "1Day")
		q.Set("adjustment", "all")
		q.Set("limit", fmt.Sprintf("%d", pageLimit))
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		reqURL := c.baseURL + "/v2/stocks/bars?" + q.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build bars request: %w", err)
		}
		req.Header.Set("APCA-API-KEY-ID", c.keyID)
		req.Header.Set("APCA-API-SECRET-KEY", c.secret)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("bars request failed: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("vendor returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var page barsResponse
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to decode bars response: %w", err)
		}
		resp.Body.Close()

		for symbol, bars := range page.Bars {
			for _, b := range bars {
				if len(b.T) < 10 {
					continue
				}
				result[symbol] = append(result[symbol], domain.Bar{
					Date:   b.T[:10],
					Open:   b.O,
					High:   b.H,
					Low:    b.L,
					Close:  b.C,
					Volume: b.V,
				})
			}
		}

		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		pageToken = *page.NextPageToken
	}

	c.log.Debug().
		Int("symbols", len(symbols)).
		Str("start", start).
		Str("end", end).
		Msg("Fetched daily bars")

	return result, nil
}
