package price

import (
	"btc-signal-desk/config"
	"context"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"strings"
	"time"
)

// Fallback tries each source in order and returns the first price it gets.
// Every source gets its own Timeout, so a hanging source leaves time for the next one.
type Fallback struct {
	Sources []Source
	Timeout time.Duration
}

func NewFallback(timeout time.Duration, sources ...Source) *Fallback {
	return &Fallback{Sources: sources, Timeout: timeout}
}

func (f *Fallback) Name() string { return "fallback" }

func (f *Fallback) Price(ctx context.Context) (float64, error) {
	if len(f.Sources) == 0 {
		return 0, errors.New("no price sources configured")
	}

	var errs []error
	for _, s := range f.Sources {
		// only the caller's own cancellation stops the chain
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		p, err := f.try(ctx, s)
		if err == nil {
			return p, nil
		}
		log.WithField("source", s.Name()).Warnf("price source failed: %v", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return 0, errors.Join(errs...)
}

func (f *Fallback) try(ctx context.Context, s Source) (float64, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	return s.Price(ctx)
}

// Attempts is how many sources one Price call may go through
func Attempts(s Source) int {
	if f, ok := s.(*Fallback); ok && len(f.Sources) > 0 {
		return len(f.Sources)
	}
	return 1
}

// New builds the primary source and, when configured, the fallback chain behind it
func New(cfg config.PriceSource, timeout time.Duration) (Source, error) {
	primary := NewCoinGecko(cfg.URL, timeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Fallback)) {
	case "", "none":
		return primary, nil
	case "coinpaprika":
		return NewFallback(timeout, primary, NewCoinPaprika(cfg.APIKey, timeout)), nil
	}
	return nil, fmt.Errorf("unknown price fallback %q", cfg.Fallback)
}
