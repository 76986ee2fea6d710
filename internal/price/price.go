package price

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"net/http"
	"time"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"

// Source returns the current USD price of the tracked asset
type Source interface {
	Name() string
	Price(ctx context.Context) (float64, error)
}

// CoinGecko reads the simple/price endpoint, {"bitcoin":{"usd":64250.12}}
type CoinGecko struct {
	URL     string
	CoinID  string
	Timeout time.Duration
	Client  *http.Client
}

func NewCoinGecko(url string, timeout time.Duration) *CoinGecko {
	if url == "" {
		url = DefaultCoinGeckoURL
	}
	return &CoinGecko{
		URL:     url,
		CoinID:  "bitcoin",
		Timeout: timeout,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (c *CoinGecko) Name() string { return "coingecko" }

func (c *CoinGecko) Price(ctx context.Context) (float64, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return 0, errors.Wrap(err, "could not build price request")
	}
	req.Header.Set("Accept", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "could not fetch price")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, errors.Errorf("price source returned %d: %s", resp.StatusCode, body)
	}

	var quotes map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return 0, errors.Wrap(err, "could not parse price response")
	}

	value, ok := quotes[c.CoinID]["usd"]
	if !ok {
		return 0, errors.Errorf("price response has no %s.usd field", c.CoinID)
	}
	if err := checkPrice(value); err != nil {
		return 0, err
	}

	log.Debugf("price from %s: %.2f", c.Name(), value)
	return value, nil
}

func checkPrice(v float64) error {
	if v <= 0 {
		return fmt.Errorf("price must be positive, got %v", v)
	}
	return nil
}
