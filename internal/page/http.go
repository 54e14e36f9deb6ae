package page

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/lox/commutewatch/internal/htmlutil"
	"github.com/lox/commutewatch/internal/httputil"
)

// HTTPPage fetches a document once per Navigate and answers selector queries
// against the parsed DOM. It does not execute scripts, so dynamically
// rendered elements show up as misses and drive the fallback tiers.
type HTTPPage struct {
	client         *resty.Client
	maxElapsedTime time.Duration
	doc            *goquery.Document
}

func NewHTTPPage(client *resty.Client) *HTTPPage {
	if client == nil {
		client = httputil.NewClient()
	}
	return &HTTPPage{client: client, maxElapsedTime: 2 * time.Minute}
}

func (p *HTTPPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.doc = nil

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body []byte
	operation := func() error {
		resp, err := p.client.R().SetContext(ctx).Get(url)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch page: %w", err))
		}
		status := resp.StatusCode()
		if status == http.StatusTooManyRequests || status >= 500 {
			return fmt.Errorf("fetch page: status %d", status)
		}
		if status != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("fetch page: status %d", status))
		}
		body = resp.Body()
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = p.maxElapsedTime
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return &NavigationError{URL: url, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return &NavigationError{URL: url, Err: fmt.Errorf("parse html: %w", err)}
	}
	p.doc = doc
	return nil
}

func (p *HTTPPage) QuerySelector(ctx context.Context, selector string) (Node, error) {
	if p.doc == nil {
		return nil, ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	return newNode(sel), nil
}

func (p *HTTPPage) QuerySelectorAll(ctx context.Context, selector string) ([]Node, error) {
	if p.doc == nil {
		return nil, ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var nodes []Node
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, newNode(s))
	})
	return nodes, nil
}

func (p *HTTPPage) Wait(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

type htmlNode struct {
	text string
}

func (n htmlNode) Text() string { return n.text }

// newNode flattens the selection's visible text. Going through html2text keeps
// block elements separated, which Selection.Text does not.
func newNode(s *goquery.Selection) Node {
	html, err := goquery.OuterHtml(s)
	if err != nil {
		return htmlNode{text: htmlutil.Flatten(s.Text())}
	}
	text := htmlutil.Flatten(htmlutil.ToText(html))
	if text == "" {
		text = htmlutil.Flatten(s.Text())
	}
	return htmlNode{text: strings.TrimSpace(text)}
}
