package alert

import (
	"btc-signal-desk/internal/notifier"
	"btc-signal-desk/internal/price"
	"btc-signal-desk/internal/types"
	"btc-signal-desk/lib/helpers"
	"context"
	"fmt"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the part of the alert table a run needs
type Store interface {
	ListEnabled(ctx context.Context, asset string) ([]types.Alert, error)
	Update(ctx context.Context, id string, patch types.AlertPatch) error
	RecordRun(ctx context.Context, report types.RunReport) error
}

// Reporter receives the summary of every finished run
type Reporter interface {
	ReportRun(ctx context.Context, report types.RunReport) error
}

type Options struct {
	Asset       string
	Concurrency int
	CallTimeout time.Duration
	Reporter    Reporter
	Metrics     *Metrics
	Now         func() time.Time
}

type Runner struct {
	prices   price.Source
	store    Store
	notifier notifier.Notifier
	reporter Reporter
	metrics  *Metrics

	asset       string
	concurrency int
	callTimeout time.Duration
	now         func() time.Time

	// one run at a time per process
	mu sync.Mutex
}

type outcome int

const (
	sent outcome = iota
	deliveryFailed
	persistFailed
)

func NewRunner(prices price.Source, store Store, n notifier.Notifier, opts Options) *Runner {
	r := &Runner{
		prices:      prices,
		store:       store,
		notifier:    n,
		reporter:    opts.Reporter,
		metrics:     opts.Metrics,
		asset:       strings.ToUpper(opts.Asset),
		concurrency: opts.Concurrency,
		callTimeout: opts.CallTimeout,
		now:         opts.Now,
	}
	if r.asset == "" {
		r.asset = types.AssetBTC
	}
	if r.concurrency <= 0 {
		r.concurrency = 4
	}
	if r.callTimeout <= 0 {
		r.callTimeout = 20 * time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// RunOnce fetches the price once, evaluates every enabled alert against it
// and notifies the triggered ones. A price or listing failure aborts the run,
// failures of single alerts are collected in the report.
func (r *Runner) RunOnce(ctx context.Context) (types.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	now := r.now().UTC()
	report := types.RunReport{StartedAt: now, Asset: r.asset}

	log.Debugf("🔄 Checking %s alerts...", r.asset)

	current, err := r.fetchPrice(ctx)
	if err != nil {
		r.metrics.failed("price_error")
		return report, fmt.Errorf("%w: %w", ErrPriceFetch, err)
	}
	report.Price = current

	alerts, err := r.listAlerts(ctx)
	if err != nil {
		r.metrics.failed("store_error")
		return report, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	report.Evaluated = len(alerts)

	var (
		mu sync.Mutex
		p  = pool.New().WithMaxGoroutines(r.concurrency)
	)
	for _, a := range alerts {
		if !ShouldTrigger(a, current, now) {
			continue
		}
		report.Triggered++

		p.Go(func() {
			res := r.notify(ctx, a, current, now)

			mu.Lock()
			defer mu.Unlock()
			switch res {
			case sent:
				report.Sent++
			case persistFailed:
				report.Sent++
				report.PersistFailures = append(report.PersistFailures, a.ID)
			case deliveryFailed:
				report.DeliveryFailures = append(report.DeliveryFailures, a.ID)
			}
		})
	}
	p.Wait()

	sort.Strings(report.DeliveryFailures)
	sort.Strings(report.PersistFailures)
	report.Duration = time.Since(start)

	r.finish(ctx, report)
	return report, nil
}

// fetchPrice gives every source of a fallback chain its own call timeout
func (r *Runner) fetchPrice(ctx context.Context) (float64, error) {
	budget := r.callTimeout * time.Duration(price.Attempts(r.prices))
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	current, err := r.prices.Price(cctx)
	if err != nil {
		log.Errorf("❌ Failed to fetch %s price from %s: %v", r.asset, r.prices.Name(), err)
		return 0, err
	}
	log.Debugf("💲 %s price from %s: $%s", r.asset, r.prices.Name(), helpers.FormatPriceUS(current))
	return current, nil
}

func (r *Runner) listAlerts(ctx context.Context) ([]types.Alert, error) {
	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	alerts, err := r.store.ListEnabled(cctx, r.asset)
	if err != nil {
		log.Errorf("❌ Failed to fetch alerts from the database: %v", err)
		return nil, err
	}
	return alerts, nil
}

// notify sends one alert and stamps last_sent_at with the run time.
// A panic in the notifier or the store counts as that step's failure.
func (r *Runner) notify(ctx context.Context, a types.Alert, current float64, now time.Time) outcome {
	logger := log.WithFields(log.Fields{"alert_id": a.ID, "email": helpers.MaskEmail(a.Email), "price": current})
	subject, body := ComposeMessage(a, current)

	err := catch(func() error {
		sctx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		return r.notifier.Send(sctx, a.Email, subject, body)
	})
	if err != nil {
		logger.Errorf("❌ Failed to send alert notification: %v", err)
		return deliveryFailed
	}

	err = catch(func() error {
		uctx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		return r.store.Update(uctx, a.ID, types.AlertPatch{LastSentAt: &now})
	})
	if err != nil {
		logger.Errorf("⚠️ Alert sent but last_sent_at not saved, it may repeat next run: %v", err)
		return persistFailed
	}

	logger.Infof("✅ Alert notification sent (%s %s)", a.Direction, helpers.FormatPriceRoundedUS(a.PriceThreshold))
	return sent
}

func catch(fn func() error) error {
	var (
		err error
		pc  panics.Catcher
	)
	pc.Try(func() { err = fn() })
	if rec := pc.Recovered(); rec != nil {
		return fmt.Errorf("panic: %v", rec.Value)
	}
	return err
}

// finish records the report everywhere it is wanted. None of these can fail the run.
func (r *Runner) finish(ctx context.Context, report types.RunReport) {
	r.metrics.observe(report)

	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	if err := r.store.RecordRun(cctx, report); err != nil {
		log.Warnf("Failed to save run history: %v", err)
	}
	cancel()

	if r.reporter != nil {
		cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
		if err := r.reporter.ReportRun(cctx, report); err != nil {
			log.Warnf("Failed to report run: %v", err)
		}
		cancel()
	}

	if report.OK() {
		log.Infof("✅ Alert check completed: %s", report)
	} else {
		log.Warnf("⚠️ Alert check completed with failures: %s", report)
	}
}
