// Package finance provides the market-data collaborator: ticker lookup and
// quote enrichment backed by the Tencent finance endpoints.
package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultQuoteBaseURL = "https://qt.gtimg.cn"
	defaultKlineBaseURL = "https://web.ifzq.gtimg.cn"

	// klineDays covers enough history for both the rolling 5-day change
	// and the previous month's closing price.
	klineDays = 60
)

// Listing identifies a traded company without financial data.
type Listing struct {
	Name     string `json:"name"`
	Ticker   string `json:"ticker"`
	Exchange string `json:"exchange"`
}

// Quote holds the display-ready financial fields for a listing.
type Quote struct {
	CurrentPrice string `json:"currentPrice"`
	WeekChange   string `json:"weekChange"`
	MonthChange  string `json:"monthChange"`
}

// DefaultQuote is the degraded quote used when enrichment fails; enrichment
// failures must never fail an analysis job.
func DefaultQuote() Quote {
	return Quote{CurrentPrice: "0.00", WeekChange: "0.00%", MonthChange: "0.00%"}
}

// Client talks to the quote endpoints. Base URLs are injectable for tests.
type Client struct {
	httpClient   *http.Client
	quoteBaseURL string
	klineBaseURL string
}

// NewClient creates a client against the production endpoints.
func NewClient() *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		quoteBaseURL: defaultQuoteBaseURL,
		klineBaseURL: defaultKlineBaseURL,
	}
}

// NewClientWithBaseURLs creates a client against custom endpoints (tests).
func NewClientWithBaseURLs(httpClient *http.Client, quoteBaseURL, klineBaseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{httpClient: httpClient, quoteBaseURL: quoteBaseURL, klineBaseURL: klineBaseURL}
}

// formatSymbol maps a ticker and exchange to the Tencent symbol form.
func formatSymbol(ticker, exchange string) string {
	upperTicker := strings.ToUpper(ticker)
	switch strings.ToUpper(exchange) {
	case "NASDAQ", "NYSE", "AMEX", "US":
		return "us" + upperTicker
	case "HKEX", "HK":
		return "hk" + leftPad(upperTicker, 5)
	case "SSE", "SH":
		return "sh" + upperTicker
	case "SZSE", "SZ":
		return "sz" + upperTicker
	default:
		return "us" + upperTicker
	}
}

func leftPad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}

// exchangeForPrefix maps a Tencent market prefix (and, for US listings, the
// exchange suffix of the reported code) back to a display exchange.
func exchangeForPrefix(prefix, code string) string {
	switch prefix {
	case "us":
		parts := strings.Split(code, ".")
		switch strings.ToUpper(parts[len(parts)-1]) {
		case "O", "OQ":
			return "NASDAQ"
		case "N":
			return "NYSE"
		default:
			return "NASDAQ"
		}
	case "hk":
		return "HKEX"
	case "sh":
		return "SSE"
	case "sz":
		return "SZSE"
	}
	return "UNKNOWN"
}

// SearchTicker probes each market prefix for an exact ticker match.
// Returns nil when no market recognizes the symbol.
func (c *Client) SearchTicker(ctx context.Context, query string) (*Listing, error) {
	upperQuery := strings.ToUpper(strings.TrimSpace(query))
	if upperQuery == "" {
		return nil, nil
	}

	for _, prefix := range []string{"us", "sh", "sz", "hk"} {
		symbol := prefix + upperQuery
		if prefix == "hk" {
			symbol = prefix + leftPad(upperQuery, 5)
		}

		body, err := c.fetchQuoteText(ctx, symbol)
		if err != nil {
			continue // try the next market
		}
		if !strings.Contains(body, "~") || strings.Contains(body, "v_pv_none_match=1") {
			continue
		}

		parts := splitQuotePayload(body)
		if len(parts) <= 2 || parts[1] == "" {
			continue
		}

		exchange := exchangeForPrefix(prefix, parts[2])
		if exchange == "UNKNOWN" {
			continue
		}

		return &Listing{Name: parts[1], Ticker: upperQuery, Exchange: exchange}, nil
	}
	return nil, nil
}

// Quote fetches the current price plus rolling 5-day and month-to-date
// changes for a listing.
func (c *Client) Quote(ctx context.Context, listing Listing) (Quote, error) {
	symbol := formatSymbol(listing.Ticker, listing.Exchange)

	body, err := c.fetchQuoteText(ctx, symbol)
	if err != nil {
		return DefaultQuote(), fmt.Errorf("failed to fetch quote for %s: %w", listing.Ticker, err)
	}

	parts := splitQuotePayload(body)
	if len(parts) < 30 {
		return DefaultQuote(), fmt.Errorf("invalid quote format for %s", listing.Ticker)
	}

	priceStr := parts[3]
	if priceStr == "" {
		priceStr = "0.00"
	}
	price, _ := strconv.ParseFloat(priceStr, 64)

	daily, err := c.fetchDailyCloses(ctx, symbol)
	if err != nil {
		return DefaultQuote(), fmt.Errorf("failed to fetch k-line for %s: %w", listing.Ticker, err)
	}

	return Quote{
		CurrentPrice: priceStr,
		WeekChange:   rollingChange(price, daily, 5),
		MonthChange:  monthToDateChange(price, daily),
	}, nil
}

// dailyClose is one daily k-line point: trade date (YYYY-MM-DD or YYYYMMDD)
// and closing price.
type dailyClose struct {
	Date  string
	Close float64
}

func (c *Client) fetchQuoteText(ctx context.Context, symbol string) (string, error) {
	url := fmt.Sprintf("%s/q=%s", c.quoteBaseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("quote endpoint returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Client) fetchDailyCloses(ctx context.Context, symbol string) ([]dailyClose, error) {
	url := fmt.Sprintf("%s/appstock/app/fqkline/get?param=%s,day,,,%d,qfq", c.klineBaseURL, symbol, klineDays)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("k-line endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data map[string]map[string]json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode k-line response: %w", err)
	}

	node, ok := payload.Data[symbol]
	if !ok {
		return nil, fmt.Errorf("no k-line data for %s", symbol)
	}

	// Adjusted series when available, raw series otherwise.
	raw, ok := node["qfqday"]
	if !ok {
		raw, ok = node["day"]
	}
	if !ok {
		return nil, nil
	}

	// Row format: [date, open, close, high, low, volume], oldest first.
	var rows [][]interface{}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode k-line rows: %w", err)
	}

	closes := make([]dailyClose, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		date, _ := row[0].(string)
		closes = append(closes, dailyClose{Date: date, Close: toFloat(row[2])})
	}
	return closes, nil
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}

func formatChange(current, base float64) string {
	if base == 0 {
		return "0.00%"
	}
	change := (current - base) / base * 100
	if change > 0 {
		return fmt.Sprintf("+%.2f%%", change)
	}
	return fmt.Sprintf("%.2f%%", change)
}

// rollingChange computes the change against the close daysAgo trading days
// back.
func rollingChange(current float64, daily []dailyClose, daysAgo int) string {
	idx := len(daily) - 1 - daysAgo
	if idx < 0 || idx >= len(daily) {
		return "0.00%"
	}
	return formatChange(current, daily[idx].Close)
}

// monthToDateChange computes the change against the last close of the
// previous calendar month. Returns the default when the series does not
// reach back that far (e.g. a recent IPO).
func monthToDateChange(current float64, daily []dailyClose) string {
	if len(daily) == 0 {
		return "0.00%"
	}

	currentYearMonth := yearMonth(daily[len(daily)-1].Date)
	if currentYearMonth == "" {
		return "0.00%"
	}

	for i := len(daily) - 1; i >= 0; i-- {
		if yearMonth(daily[i].Date) != currentYearMonth {
			return formatChange(current, daily[i].Close)
		}
	}
	return "0.00%"
}

// yearMonth normalizes "2026-01-18" or "20260118" to "202601".
func yearMonth(date string) string {
	normalized := strings.ReplaceAll(date, "-", "")
	if len(normalized) < 6 {
		return ""
	}
	return normalized[:6]
}

// splitQuotePayload extracts the ~-separated fields between the quotes of a
// Tencent quote response line.
func splitQuotePayload(body string) []string {
	start := strings.Index(body, `"`)
	end := strings.LastIndex(body, `"`)
	if start < 0 || end <= start {
		return nil
	}
	return strings.Split(body[start+1:end], "~")
}
