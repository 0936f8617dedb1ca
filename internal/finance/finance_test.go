package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quotePayload builds a Tencent quote response line with the given name,
// code, and price in their usual field positions.
func quotePayload(symbol, name, code, price string) string {
	fields := make([]string, 35)
	fields[1] = name
	fields[2] = code
	fields[3] = price
	return fmt.Sprintf("v_%s=\"%s\";", symbol, strings.Join(fields, "~"))
}

func TestFormatSymbol(t *testing.T) {
	tests := []struct {
		ticker   string
		exchange string
		want     string
	}{
		{"AAPL", "NASDAQ", "usAAPL"},
		{"brk.a", "NYSE", "usBRK.A"},
		{"700", "HKEX", "hk00700"},
		{"600519", "SSE", "sh600519"},
		{"000001", "SZSE", "sz000001"},
		{"AAPL", "UNRECOGNIZED", "usAAPL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSymbol(tt.ticker, tt.exchange), "%s/%s", tt.ticker, tt.exchange)
	}
}

func TestExchangeForPrefix(t *testing.T) {
	assert.Equal(t, "NASDAQ", exchangeForPrefix("us", "AAPL.OQ"))
	assert.Equal(t, "NASDAQ", exchangeForPrefix("us", "AAPL.O"))
	assert.Equal(t, "NYSE", exchangeForPrefix("us", "BRK.N"))
	assert.Equal(t, "NASDAQ", exchangeForPrefix("us", "AAPL"))
	assert.Equal(t, "HKEX", exchangeForPrefix("hk", "00700"))
	assert.Equal(t, "SSE", exchangeForPrefix("sh", "600519"))
	assert.Equal(t, "SZSE", exchangeForPrefix("sz", "000001"))
	assert.Equal(t, "UNKNOWN", exchangeForPrefix("uk", "VOD"))
}

func TestSearchTickerFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.TrimPrefix(r.URL.Path, "/q=")
		if symbol == "" {
			symbol = r.URL.Query().Get("q")
		}
		if strings.HasSuffix(symbol, "AAPL") && strings.HasPrefix(symbol, "us") {
			fmt.Fprint(w, quotePayload(symbol, "Apple Inc", "AAPL.OQ", "123.45"))
			return
		}
		fmt.Fprintf(w, "v_pv_none_match=1;")
	}))
	defer server.Close()

	client := NewClientWithBaseURLs(server.Client(), server.URL, server.URL)

	listing, err := client.SearchTicker(context.Background(), "aapl")
	require.NoError(t, err)
	require.NotNil(t, listing)
	assert.Equal(t, "Apple Inc", listing.Name)
	assert.Equal(t, "AAPL", listing.Ticker)
	assert.Equal(t, "NASDAQ", listing.Exchange)
}

func TestSearchTickerProbesOtherMarkets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.TrimPrefix(r.URL.Path, "/q=")
		if symbol == "hk00700" {
			fmt.Fprint(w, quotePayload(symbol, "TENCENT", "00700", "350.00"))
			return
		}
		fmt.Fprintf(w, "v_pv_none_match=1;")
	}))
	defer server.Close()

	client := NewClientWithBaseURLs(server.Client(), server.URL, server.URL)

	listing, err := client.SearchTicker(context.Background(), "700")
	require.NoError(t, err)
	require.NotNil(t, listing)
	assert.Equal(t, "TENCENT", listing.Name)
	assert.Equal(t, "700", listing.Ticker)
	assert.Equal(t, "HKEX", listing.Exchange)
}

func TestSearchTickerNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "v_pv_none_match=1;")
	}))
	defer server.Close()

	client := NewClientWithBaseURLs(server.Client(), server.URL, server.URL)

	listing, err := client.SearchTicker(context.Background(), "NOSUCH")
	require.NoError(t, err)
	assert.Nil(t, listing)
}

func TestSearchTickerEmptyQuery(t *testing.T) {
	client := NewClient()

	listing, err := client.SearchTicker(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, listing)
}

func TestQuote(t *testing.T) {
	// Daily closes: two July sessions then eight August sessions, so both
	// the 5-day rolling change and the previous-month close are resolvable.
	rows := [][]any{
		{"2026-07-30", "0", "100.00", "0", "0", "0"},
		{"2026-07-31", "0", "101.00", "0", "0", "0"},
	}
	for i := 0; i < 8; i++ {
		rows = append(rows, []any{
			fmt.Sprintf("2026-08-%02d", 3+i), "0", fmt.Sprintf("%.2f", 102.0+float64(i)), "0", "0", "0",
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/q=usAAPL", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, quotePayload("usAAPL", "Apple Inc", "AAPL.OQ", "110.00"))
	})
	mux.HandleFunc("/appstock/app/fqkline/get", func(w http.ResponseWriter, _ *http.Request) {
		payload := map[string]any{
			"data": map[string]any{
				"usAAPL": map[string]any{"qfqday": rows},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClientWithBaseURLs(server.Client(), server.URL, server.URL)

	quote, err := client.Quote(context.Background(), Listing{Name: "Apple Inc", Ticker: "AAPL", Exchange: "NASDAQ"})
	require.NoError(t, err)

	assert.Equal(t, "110.00", quote.CurrentPrice)
	// 5 sessions back: close 104.00.
	assert.Equal(t, "+5.77%", quote.WeekChange)
	// Last close of July: 101.00.
	assert.Equal(t, "+8.91%", quote.MonthChange)
}

func TestQuoteInvalidPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `v_usAAPL="too~short";`)
	}))
	defer server.Close()

	client := NewClientWithBaseURLs(server.Client(), server.URL, server.URL)

	_, err := client.Quote(context.Background(), Listing{Ticker: "AAPL", Exchange: "NASDAQ"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid quote format")
}

func TestFormatChange(t *testing.T) {
	assert.Equal(t, "+10.00%", formatChange(110, 100))
	assert.Equal(t, "-10.00%", formatChange(90, 100))
	assert.Equal(t, "0.00%", formatChange(100, 100))
	assert.Equal(t, "0.00%", formatChange(100, 0))
}

func TestRollingChange(t *testing.T) {
	daily := []dailyClose{
		{"2026-08-03", 100}, {"2026-08-04", 101}, {"2026-08-05", 102},
		{"2026-08-06", 103}, {"2026-08-07", 104}, {"2026-08-10", 105},
		{"2026-08-11", 106},
	}
	// 5 sessions before the latest: close 101.
	assert.Equal(t, "+4.95%", rollingChange(106, daily, 5))
	// Not enough history.
	assert.Equal(t, "0.00%", rollingChange(106, daily[:3], 5))
	assert.Equal(t, "0.00%", rollingChange(106, nil, 5))
}

func TestMonthToDateChange(t *testing.T) {
	daily := []dailyClose{
		{"2026-07-30", 100},
		{"2026-07-31", 102},
		{"2026-08-03", 105},
		{"2026-08-04", 107},
	}
	// Last July close is 102.
	assert.Equal(t, "+4.90%", monthToDateChange(107, daily))

	// Compact date format works too.
	compact := []dailyClose{
		{"20260731", 102},
		{"20260803", 105},
	}
	assert.Equal(t, "+2.94%", monthToDateChange(105, compact))

	// Series that never leaves the current month (recent IPO).
	sameMonth := []dailyClose{{"2026-08-03", 105}, {"2026-08-04", 107}}
	assert.Equal(t, "0.00%", monthToDateChange(107, sameMonth))

	assert.Equal(t, "0.00%", monthToDateChange(107, nil))
}

func TestYearMonth(t *testing.T) {
	assert.Equal(t, "202601", yearMonth("2026-01-18"))
	assert.Equal(t, "202601", yearMonth("20260118"))
	assert.Equal(t, "", yearMonth("bad"))
}
