package price

import (
	"context"
	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"net/http"
	"time"
)

// TickerFunc matches coinpaprika Tickers.GetByID
type TickerFunc func(coinID string, options *coinpaprika.TickersOptions) (*coinpaprika.Ticker, error)

type CoinPaprika struct {
	CoinID    string
	getTicker TickerFunc
}

func NewCoinPaprika(apiProKey string, timeout time.Duration) *CoinPaprika {
	httpClient := &http.Client{Timeout: timeout}

	var client *coinpaprika.Client
	if apiProKey != "" {
		client = coinpaprika.NewClient(httpClient, coinpaprika.WithAPIKey(apiProKey))
	} else {
		client = coinpaprika.NewClient(httpClient)
	}
	return &CoinPaprika{CoinID: "btc-bitcoin", getTicker: client.Tickers.GetByID}
}

func NewCoinPaprikaWith(fn TickerFunc) *CoinPaprika {
	return &CoinPaprika{CoinID: "btc-bitcoin", getTicker: fn}
}

func (c *CoinPaprika) Name() string { return "coinpaprika" }

func (c *CoinPaprika) Price(ctx context.Context) (float64, error) {
	type result struct {
		ticker *coinpaprika.Ticker
		err    error
	}

	// the client has no context support, the request is bounded by the http.Client timeout
	done := make(chan result, 1)
	go func() {
		t, err := c.getTicker(c.CoinID, &coinpaprika.TickersOptions{Quotes: "USD"})
		done <- result{t, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return 0, errors.Wrap(ctx.Err(), "coinpaprika ticker")
	case r = <-done:
	}

	if r.err != nil {
		return 0, errors.Wrapf(r.err, "could not get ticker %s", c.CoinID)
	}
	if r.ticker == nil || r.ticker.Quotes == nil {
		return 0, errors.Errorf("ticker %s has no quotes", c.CoinID)
	}

	usd, ok := r.ticker.Quotes["USD"]
	if !ok || usd.Price == nil {
		return 0, errors.Errorf("ticker %s has no USD price", c.CoinID)
	}
	if err := checkPrice(*usd.Price); err != nil {
		return 0, err
	}

	log.Debugf("price from %s: %.2f", c.Name(), *usd.Price)
	return *usd.Price, nil
}
