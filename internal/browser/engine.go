// Package browser drives headless Chrome sessions via chromedp.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kawishanedirisinghe/Remote-browser/internal/capture"
	"github.com/kawishanedirisinghe/Remote-browser/internal/policy/ratelimit"
)

// Config controls the behavior of the browser engine.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	NoSandbox         bool
	DomainQPS         float64
}

// Engine implements capture.Renderer using chromedp and headless Chrome.
type Engine struct {
	cfg          Config
	limiter      chan struct{}
	allocator    context.Context
	allocCancel  context.CancelFunc
	domainBudget *ratelimit.Limiter
	logger       *zap.Logger
}

// New creates an Engine backed by a shared Chrome exec allocator.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	var domainBudget *ratelimit.Limiter
	if cfg.DomainQPS > 0 {
		domainBudget = ratelimit.New(ratelimit.Config{DefaultQPS: cfg.DomainQPS})
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.NoSandbox {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Engine{
		cfg:          cfg,
		limiter:      limiter,
		allocator:    allocCtx,
		allocCancel:  allocCancel,
		domainBudget: domainBudget,
		logger:       logger,
	}, nil
}

// Close cancels the allocator context.
func (e *Engine) Close() {
	e.allocCancel()
}

// Screenshot navigates to the URL and captures a PNG of the page.
func (e *Engine) Screenshot(ctx context.Context, req capture.RenderRequest) (capture.RenderResult, error) {
	var buf []byte
	shoot := chromedp.ActionFunc(func(ctx context.Context) error {
		if req.FullPage {
			return chromedp.FullScreenshot(&buf, 100).Do(ctx)
		}
		return chromedp.CaptureScreenshot(&buf).Do(ctx)
	})
	return e.run(ctx, req, settleNetwork, &buf, shoot)
}

// HTML navigates to the URL and returns the rendered DOM.
func (e *Engine) HTML(ctx context.Context, req capture.RenderRequest) (capture.RenderResult, error) {
	var html string
	var buf []byte
	extract := chromedp.ActionFunc(func(ctx context.Context) error {
		if err := chromedp.OuterHTML("html", &html, chromedp.ByQuery).Do(ctx); err != nil {
			return err
		}
		buf = []byte(html)
		return nil
	})
	return e.run(ctx, req, settleNetwork, &buf, extract)
}

// PDF navigates to the URL and prints the page to PDF.
func (e *Engine) PDF(ctx context.Context, req capture.RenderRequest) (capture.RenderResult, error) {
	var buf []byte
	printPage := chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	})
	return e.run(ctx, req, settleNetwork, &buf, printPage)
}

// Evaluate navigates to the URL and runs the script in the page, returning
// the result as raw JSON. Navigation waits only for DOM content, matching
// the lighter settle the eval surface needs.
func (e *Engine) Evaluate(ctx context.Context, req capture.RenderRequest) (capture.RenderResult, error) {
	var raw json.RawMessage
	eval := chromedp.ActionFunc(func(ctx context.Context) error {
		return chromedp.Evaluate(req.Script, &raw).Do(ctx)
	})
	result, err := e.run(ctx, req, settleDOM, nil, eval)
	if err != nil {
		return capture.RenderResult{}, err
	}
	if raw == nil {
		raw = json.RawMessage("null")
	}
	result.Result = raw
	return result, nil
}

type settleMode int

const (
	// settleDOM waits only for the document body to be ready.
	settleDOM settleMode = iota
	// settleNetwork additionally lets in-flight subresources land.
	settleNetwork
)

func (e *Engine) run(
	ctx context.Context,
	req capture.RenderRequest,
	settle settleMode,
	body *[]byte,
	action chromedp.Action,
) (capture.RenderResult, error) {
	if err := e.acquire(ctx); err != nil {
		return capture.RenderResult{}, err
	}
	defer e.release()

	if err := e.waitDomainBudget(ctx, req.URL); err != nil {
		return capture.RenderResult{}, err
	}

	tabCtx, tabCancel := chromedp.NewContext(e.allocator)
	defer tabCancel()

	taskCtx, cancel := context.WithTimeout(tabCtx, e.navTimeout())
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var finalURL string
	actions := []chromedp.Action{
		e.networkSetupAction(req.Headers),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if settle == settleNetwork {
		actions = append(actions, chromedp.Sleep(500*time.Millisecond))
	}
	actions = append(actions, chromedp.Location(&finalURL), action)

	start := time.Now()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return capture.RenderResult{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(req.URL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}

	result := capture.RenderResult{
		URL:        req.URL,
		FinalURL:   responseURL,
		StatusCode: status,
		Headers:    headers,
		Duration:   time.Since(start),
	}
	if body != nil {
		result.Body = *body
	}
	return result, nil
}

func (e *Engine) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if e.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (e *Engine) release() {
	if e.limiter == nil {
		return
	}
	select {
	case <-e.limiter:
	default:
	}
}

func (e *Engine) navTimeout() time.Duration {
	if e.cfg.NavigationTimeout > 0 {
		return e.cfg.NavigationTimeout
	}
	return 30 * time.Second
}

func (e *Engine) waitDomainBudget(ctx context.Context, rawURL string) error {
	if e.domainBudget == nil {
		return nil
	}
	if err := e.domainBudget.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("navigation rate limit: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
