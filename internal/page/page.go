// Package page defines the browsing capability the extraction pipeline
// consumes, plus a static HTTP implementation of it.
package page

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Node is a DOM element.
type Node interface {
	Text() string
}

// Page is one browsing session. Implementations serve one route at a time.
//
// QuerySelector returns a nil Node when nothing matches. A selector wait that
// exceeds its deadline is reported the same way as a miss.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	QuerySelector(ctx context.Context, selector string) (Node, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]Node, error)
	Wait(ctx context.Context, d time.Duration) error
}

// NavigationError means the page could not be loaded at all. It is the only
// extraction failure that aborts a route's cycle.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ErrNotLoaded is returned by selector queries before a successful Navigate.
var ErrNotLoaded = errors.New("page not loaded")

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitForSelector polls QuerySelector until it matches or timeout elapses.
// A timeout is not an error; callers see found == false.
func WaitForSelector(ctx context.Context, p Page, selectors []string, timeout, interval time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range selectors {
			n, err := p.QuerySelector(ctx, sel)
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return false, err
			}
			if n != nil {
				return true, nil
			}
		}
		if time.Now().Add(interval).After(deadline) {
			return false, nil
		}
		if err := p.Wait(ctx, interval); err != nil {
			return false, err
		}
	}
}
