package chromedp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Browser implements ports.Browser over the DevTools protocol
type Browser struct {
	logger *zap.Logger
}

// NewBrowser creates a new chromedp browser connector
func NewBrowser(logger *zap.Logger) *Browser {
	return &Browser{logger: logger}
}

// Connect attaches to the browser at endpoint and opens a tab
func (b *Browser) Connect(ctx context.Context, endpoint string) (ports.Page, error) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), endpoint)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	p := &Page{
		ctx: tabCtx,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
		logger: b.logger,
	}

	// The first run allocates and attaches, binding the websocket and the
	// target's event loop to the context it is given, so it must be the
	// tab's own context. ctx only bounds how long attaching may take.
	stop := context.AfterFunc(ctx, p.cancel)
	err := chromedp.Run(tabCtx)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		p.cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	b.logger.Debug("browser attached", zap.String("endpoint", endpoint))
	return p, nil
}

// Page implements ports.Page on one chromedp tab
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// run executes actions on the attached tab, aborting when ctx is done
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url
func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

// WaitVisible blocks until selector is visible
func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Click clicks the first element matching selector
func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Fill replaces the value of an input by typing value
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// Text returns the visible text of the first element matching selector
func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := p.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return "", err
	}
	return text, nil
}

// Exists reports whether any element matches selector, without waiting
func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var found bool
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%s) !== null`, sel), &found)); err != nil {
		return false, err
	}
	return found, nil
}

// Content returns the document's outer HTML
func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

type fetchInit struct {
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	Credentials string            `json:"credentials"`
}

type fetchResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// Fetch issues req with the page's fetch, sharing its cookies and origin
func (p *Page) Fetch(ctx context.Context, req ports.HTTPRequest) (*ports.HTTPResponse, error) {
	init := fetchInit{
		Method:      strings.ToUpper(req.Method),
		Headers:     req.Headers,
		Credentials: "include",
	}
	if init.Method != "GET" && init.Method != "HEAD" {
		init.Body = req.Body
	}

	target, err := json.Marshal(req.URL)
	if err != nil {
		return nil, err
	}
	opts, err := json.Marshal(init)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf(`(async () => {
	const r = await fetch(%s, %s);
	return { status: r.status, body: await r.text() };
})()`, target, opts)

	var res fetchResult
	err = p.run(ctx, chromedp.Evaluate(script, &res, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	return &ports.HTTPResponse{Status: res.Status, Body: res.Body}, nil
}

// Close closes the tab and detaches from the browser
func (p *Page) Close() error {
	p.cancel()
	return nil
}
