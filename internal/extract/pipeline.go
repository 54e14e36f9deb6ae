// Package extract recovers a travel duration from a loaded page using
// progressively weaker strategies.
package extract

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lox/commutewatch/internal/duration"
	"github.com/lox/commutewatch/internal/htmlutil"
	"github.com/lox/commutewatch/internal/models"
	"github.com/lox/commutewatch/internal/page"
)

// Tier is a stage of the fallback state machine.
type Tier int

const (
	TierPrimary Tier = iota
	TierRetry
	TierSingleCard
	TierMultiCard
	TierFailed
)

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierRetry:
		return "retry"
	case TierSingleCard:
		return "single_card"
	case TierMultiCard:
		return "multi_card"
	default:
		return "failed"
	}
}

// Status is the outcome of one step. Only StatusFatal stops the machine.
type Status int

const (
	StatusOK Status = iota
	StatusDegraded
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDegraded:
		return "degraded"
	default:
		return "fatal"
	}
}

// Step records what one tier saw.
type Step struct {
	Tier     Tier
	Status   Status
	Raw      string
	Reason   string
	Minutes  float64
	Fragment string
	Err      error
}

// Result is the outcome of one extraction. Minutes is null when every tier
// degraded.
type Result struct {
	Route     models.Route
	At        time.Time
	PageTitle string
	Minutes   sql.NullFloat64
	Fragment  string
	Tier      Tier
	Steps     []Step
	Snapshot  string
}

// Degraded reports whether the value came from a fallback tier or is missing.
func (r *Result) Degraded() bool {
	return r.Tier != TierPrimary
}

// Raw returns the raw value observed at tier t, or "".
func (r *Result) Raw(t Tier) string {
	for _, s := range r.Steps {
		if s.Tier == t {
			return s.Raw
		}
	}
	return ""
}

const (
	DefaultRetryDelay        = 3 * time.Second
	DefaultNavigationTimeout = 60 * time.Second
	DefaultSnapshotLimit     = 800
	DefaultTitleSelector     = "title"
	DefaultBodySelector      = "body"
)

type Options struct {
	// Selectors are tried in order; the first one with non-empty text wins.
	Selectors         []string
	CardSelector      string
	RetryDelay        time.Duration
	NavigationTimeout time.Duration
	// CardWaitTimeout bounds the wait for the first result card after
	// navigation. Zero skips the wait. Timing out is not an error.
	CardWaitTimeout time.Duration
	SnapshotLimit   int
}

func (o Options) withDefaults() Options {
	if o.RetryDelay == 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.NavigationTimeout == 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.SnapshotLimit == 0 {
		o.SnapshotLimit = DefaultSnapshotLimit
	}
	return o
}

// Recorder receives a Result whenever extraction degraded.
type Recorder interface {
	Record(ctx context.Context, r *Result) error
}

type Pipeline struct {
	page     page.Page
	opts     Options
	recorder Recorder
	now      func() time.Time
}

func NewPipeline(p page.Page, opts Options, recorder Recorder) *Pipeline {
	return &Pipeline{
		page:     p,
		opts:     opts.withDefaults(),
		recorder: recorder,
		now:      time.Now,
	}
}

// Extract navigates to the route and runs the fallback tiers. A missing or
// unparseable duration is never an error; the returned error is always fatal
// for the route (navigation failure or cancellation).
func (p *Pipeline) Extract(ctx context.Context, route models.Route) (*Result, error) {
	res := &Result{Route: route, At: p.now(), Tier: TierFailed}

	if err := p.page.Navigate(ctx, route.URL, p.opts.NavigationTimeout); err != nil {
		var navErr *page.NavigationError
		if !errors.As(err, &navErr) {
			err = &page.NavigationError{URL: route.URL, Err: err}
		}
		return nil, err
	}

	if p.opts.CardWaitTimeout > 0 && p.opts.CardSelector != "" {
		if _, err := page.WaitForSelector(ctx, p.page, []string{p.opts.CardSelector}, p.opts.CardWaitTimeout, 500*time.Millisecond); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	res.PageTitle = p.textOf(ctx, DefaultTitleSelector)

	steps := []func(context.Context) Step{
		p.primary,
		p.retry,
		p.singleCard,
		p.multiCard,
	}
	for _, run := range steps {
		step := run(ctx)
		res.Steps = append(res.Steps, step)
		if step.Status == StatusFatal {
			return nil, step.Err
		}
		if step.Status == StatusOK {
			res.Tier = step.Tier
			res.Minutes = sql.NullFloat64{Float64: step.Minutes, Valid: true}
			res.Fragment = step.Fragment
			break
		}
	}

	if res.Degraded() {
		res.Snapshot = htmlutil.Truncate(p.textOf(ctx, DefaultBodySelector), p.opts.SnapshotLimit)
		if p.recorder != nil {
			if err := p.recorder.Record(ctx, res); err != nil {
				slog.Warn("extract: record diagnostics", "route", route.ID(), "error", err)
			}
		}
	}
	return res, nil
}

func (p *Pipeline) primary(ctx context.Context) Step {
	return p.querySelectors(ctx, TierPrimary)
}

func (p *Pipeline) retry(ctx context.Context) Step {
	if err := p.page.Wait(ctx, p.opts.RetryDelay); err != nil {
		return Step{Tier: TierRetry, Status: StatusFatal, Err: err}
	}
	return p.querySelectors(ctx, TierRetry)
}

func (p *Pipeline) querySelectors(ctx context.Context, tier Tier) Step {
	for _, sel := range p.opts.Selectors {
		n, err := p.page.QuerySelector(ctx, sel)
		if ctx.Err() != nil {
			return Step{Tier: tier, Status: StatusFatal, Err: ctx.Err()}
		}
		if err != nil || n == nil {
			continue
		}
		text := strings.TrimSpace(n.Text())
		if text == "" {
			continue
		}
		if minutes, ok := duration.Parse(text); ok {
			return Step{Tier: tier, Status: StatusOK, Raw: text, Minutes: minutes, Fragment: text}
		}
		return Step{Tier: tier, Status: StatusDegraded, Raw: text, Reason: "unparseable duration"}
	}
	return Step{Tier: tier, Status: StatusDegraded, Reason: "selector missing"}
}

func (p *Pipeline) singleCard(ctx context.Context) Step {
	step := Step{Tier: TierSingleCard, Status: StatusDegraded}
	if p.opts.CardSelector == "" {
		step.Reason = "no card selector"
		return step
	}
	n, err := p.page.QuerySelector(ctx, p.opts.CardSelector)
	if ctx.Err() != nil {
		return Step{Tier: TierSingleCard, Status: StatusFatal, Err: ctx.Err()}
	}
	if err != nil || n == nil {
		step.Reason = "selector missing"
		return step
	}
	text := n.Text()
	step.Raw = text
	fragment, ok := duration.ExtractFragment(text)
	if !ok {
		step.Reason = "no duration fragment"
		return step
	}
	minutes, ok := duration.Parse(fragment)
	if !ok {
		step.Reason = "unparseable fragment"
		return step
	}
	return Step{Tier: TierSingleCard, Status: StatusOK, Raw: text, Minutes: minutes, Fragment: fragment}
}

// Candidate is a duration recovered from one result card.
type Candidate struct {
	Index    int
	Fragment string
	Minutes  float64
}

// Fastest returns the candidate with the smallest duration; ties keep the
// earliest card.
func Fastest(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Minutes < best.Minutes {
			best = c
		}
	}
	return best, true
}

func (p *Pipeline) multiCard(ctx context.Context) Step {
	step := Step{Tier: TierMultiCard, Status: StatusDegraded}
	if p.opts.CardSelector == "" {
		step.Reason = "no card selector"
		return step
	}
	nodes, err := p.page.QuerySelectorAll(ctx, p.opts.CardSelector)
	if ctx.Err() != nil {
		return Step{Tier: TierMultiCard, Status: StatusFatal, Err: ctx.Err()}
	}
	if err != nil || len(nodes) == 0 {
		step.Reason = "no cards"
		return step
	}

	var cands []Candidate
	var fragments []string
	for i, n := range nodes {
		fragment, ok := duration.ExtractFragment(n.Text())
		if !ok {
			continue
		}
		fragments = append(fragments, fragment)
		if minutes, ok := duration.Parse(fragment); ok {
			cands = append(cands, Candidate{Index: i, Fragment: fragment, Minutes: minutes})
		}
	}
	step.Raw = strings.Join(fragments, " | ")

	best, ok := Fastest(cands)
	if !ok {
		step.Reason = fmt.Sprintf("no parseable fragment in %d cards", len(nodes))
		return step
	}
	step.Status = StatusOK
	step.Minutes = best.Minutes
	step.Fragment = best.Fragment
	return step
}

func (p *Pipeline) textOf(ctx context.Context, selector string) string {
	n, err := p.page.QuerySelector(ctx, selector)
	if err != nil || n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text())
}
