package price

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geckoServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCoinGeckoPrice(t *testing.T) {
	srv := geckoServer(t, http.StatusOK, `{"bitcoin":{"usd":64250.12}}`)

	p, err := NewCoinGecko(srv.URL, time.Second).Price(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 64250.12, p, 1e-9)
}

func TestCoinGeckoMalformed(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error":   {http.StatusInternalServerError, `{"error":"boom"}`},
		"rate limited":   {http.StatusTooManyRequests, `{}`},
		"missing coin":   {http.StatusOK, `{"ethereum":{"usd":3000}}`},
		"missing usd":    {http.StatusOK, `{"bitcoin":{"eur":60000}}`},
		"string price":   {http.StatusOK, `{"bitcoin":{"usd":"64250"}}`},
		"array response": {http.StatusOK, `[64250]`},
		"zero price":     {http.StatusOK, `{"bitcoin":{"usd":0}}`},
		"not json":       {http.StatusOK, `<html></html>`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := geckoServer(t, tc.status, tc.body)
			_, err := NewCoinGecko(srv.URL, time.Second).Price(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestCoinGeckoTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewCoinGecko(srv.URL, 50*time.Millisecond).Price(context.Background())
	assert.Error(t, err)
}

func TestCoinPaprikaPrice(t *testing.T) {
	usd := 63999.5
	src := NewCoinPaprikaWith(func(coinID string, options *coinpaprika.TickersOptions) (*coinpaprika.Ticker, error) {
		assert.Equal(t, "btc-bitcoin", coinID)
		assert.Equal(t, "USD", options.Quotes)
		return &coinpaprika.Ticker{Quotes: map[string]coinpaprika.Quote{"USD": {Price: &usd}}}, nil
	})

	p, err := src.Price(context.Background())
	require.NoError(t, err)
	assert.Equal(t, usd, p)
}

func TestCoinPaprikaMissingQuote(t *testing.T) {
	src := NewCoinPaprikaWith(func(string, *coinpaprika.TickersOptions) (*coinpaprika.Ticker, error) {
		return &coinpaprika.Ticker{Quotes: map[string]coinpaprika.Quote{}}, nil
	})

	_, err := src.Price(context.Background())
	assert.Error(t, err)
}

type stubSource struct {
	name  string
	price float64
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Price(context.Context) (float64, error) {
	s.calls++
	return s.price, s.err
}

func TestFallbackOrder(t *testing.T) {
	first := &stubSource{name: "first", err: errors.New("down")}
	second := &stubSource{name: "second", price: 50000}
	third := &stubSource{name: "third", price: 1}

	p, err := NewFallback(0, first, second, third).Price(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50000.0, p)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls)
}

func TestFallbackAllFail(t *testing.T) {
	first := &stubSource{name: "first", err: errors.New("down")}
	second := &stubSource{name: "second", err: errors.New("bad shape")}

	_, err := NewFallback(0, first, second).Price(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first: down")
	assert.Contains(t, err.Error(), "second: bad shape")
}

// hangingSource blocks until its context is done
type hangingSource struct{}

func (hangingSource) Name() string { return "hanging" }

func (hangingSource) Price(ctx context.Context) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestFallbackSkipsTimedOutSource(t *testing.T) {
	backup := &stubSource{name: "backup", price: 51000}

	p, err := NewFallback(50*time.Millisecond, hangingSource{}, backup).Price(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 51000.0, p)
	assert.Equal(t, 1, backup.calls)
}

func TestFallbackStopsOnCallerCancel(t *testing.T) {
	backup := &stubSource{name: "backup", price: 51000}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFallback(time.Second, hangingSource{}, backup).Price(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, backup.calls)
}

func TestAttempts(t *testing.T) {
	assert.Equal(t, 1, Attempts(NewCoinGecko("", time.Second)))
	assert.Equal(t, 2, Attempts(NewFallback(time.Second, hangingSource{}, &stubSource{})))
	assert.Equal(t, 1, Attempts(NewFallback(time.Second)))
}
