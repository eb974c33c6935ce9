package editor

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Evaluator runs a JavaScript expression in the hosting page and decodes the
// result into out (out may be nil when the result is irrelevant). Everything
// the integration does to the page - script injection, capability probes,
// render checks, style patches - goes through this one seam, which is also
// what makes the state machine testable without a browser.
type Evaluator interface {
	Eval(ctx context.Context, expr string, out any) error
}

// Tab owns one headless-Chrome tab hosting the editor page.
type Tab struct {
	ctx     context.Context
	cancels []context.CancelFunc
}

// NewTab allocates a browser tab and navigates it to pageURL. An empty
// pageURL loads a minimal blank hosting document with the editor container.
func NewTab(ctx context.Context, pageURL string) (*Tab, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)

	tab := &Tab{
		ctx:     taskCtx,
		cancels: []context.CancelFunc{cancelTask, cancelAlloc},
	}

	actions := []chromedp.Action{}
	if pageURL != "" {
		actions = append(actions, chromedp.Navigate(pageURL))
	} else {
		actions = append(actions, chromedp.Navigate("about:blank"), chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, blankHostDocument).Do(ctx)
		}))
	}
	actions = append(actions, chromedp.WaitReady("body"))

	runCtx, cancelRun := context.WithTimeout(taskCtx, 30*time.Second)
	defer cancelRun()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		tab.Close()
		return nil, fmt.Errorf("open editor tab: %w", err)
	}
	return tab, nil
}

const blankHostDocument = `<!doctype html>
<html><head><meta charset="utf-8"><title>mailsmith</title></head>
<body><div id="email-editor-container" style="width:100%;height:100vh"></div></body></html>`

func (t *Tab) Eval(ctx context.Context, expr string, out any) error {
	runCtx, cancel := context.WithTimeout(t.ctx, 15*time.Second)
	defer cancel()
	if ctx != nil {
		// Respect the caller's deadline when it is tighter than ours.
		if deadline, ok := ctx.Deadline(); ok {
			var dcancel context.CancelFunc
			runCtx, dcancel = context.WithDeadline(runCtx, deadline)
			defer dcancel()
		}
	}
	if out == nil {
		var discard any
		out = &discard
	}
	return chromedp.Run(runCtx, chromedp.Evaluate(expr, out))
}

// SetViewport resizes the emulated viewport; the patcher's breakpoint logic
// keys off the same width.
func (t *Tab) SetViewport(widthPx, heightPx int) error {
	runCtx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetDeviceMetricsOverride(int64(widthPx), int64(heightPx), 1, false).Do(ctx)
	}))
}

// Screenshot captures the current tab as PNG for preview storage.
func (t *Tab) Screenshot() ([]byte, error) {
	runCtx, cancel := context.WithTimeout(t.ctx, 20*time.Second)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Close tears the tab down. Safe to call more than once.
func (t *Tab) Close() {
	for _, cancel := range t.cancels {
		cancel()
	}
}
