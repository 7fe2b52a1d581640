package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// settleScript resolves once web fonts and images have finished loading
const settleScript = `() => Promise.all([
	document.fonts ? document.fonts.ready : Promise.resolve(),
	...Array.from(document.images).map(img => img.complete ? Promise.resolve() :
		new Promise(done => { img.onload = done; img.onerror = done; })),
]).then(() => true)`

// pageBreakScript pads every page-break marker down to the next page boundary
const pageBreakScript = `(pageHeight, margin) => {
	document.querySelectorAll('.page-break').forEach(el => {
		const top = el.getBoundingClientRect().top + window.scrollY;
		const next = (Math.floor(top / pageHeight) + 1) * pageHeight + margin;
		el.style.height = Math.max(0, next - top) + 'px';
	});
	return document.documentElement.scrollHeight;
}`

// BrowserOptions configures the headless Chromium rasterizer
type BrowserOptions struct {
	ViewportWidth int
	Margin        int
	SettleTimeout time.Duration
	// ChromeBin is the browser executable; rod's launcher looks one up or
	// downloads one when empty
	ChromeBin string
	// ControlURL connects to an already running browser instead of launching
	ControlURL string
}

// BrowserRasterizer renders the visual tree as HTML in a headless Chromium
// page and captures a full-page screenshot. One page is created lazily and
// reused across runs; Reset blanks it.
type BrowserRasterizer struct {
	opts   BrowserOptions
	logger *zap.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// NewBrowserRasterizer creates a rasterizer. The browser starts on first use.
func NewBrowserRasterizer(opts BrowserOptions, logger *zap.Logger) *BrowserRasterizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = DefaultViewportWidth
	}
	if opts.Margin < 0 || opts.Margin*2 >= opts.ViewportWidth {
		opts.Margin = DefaultMargin
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = time.Second
	}
	return &BrowserRasterizer{opts: opts, logger: logger}
}

func (b *BrowserRasterizer) ensurePage() error {
	if b.page != nil {
		return nil
	}

	controlURL := b.opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if b.opts.ChromeBin != "" {
			l = l.Bin(b.opts.ChromeBin)
		}
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		b.launcher = l
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.ViewportWidth,
		Height:            PageHeight(b.opts.ViewportWidth),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		_ = browser.Close()
		return fmt.Errorf("set viewport: %w", err)
	}

	b.browser = browser
	b.page = page
	b.logger.Info("headless browser started", zap.String("control_url", controlURL))
	return nil
}

// Reset blanks the shared page
func (b *BrowserRasterizer) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetLocked()
}

func (b *BrowserRasterizer) resetLocked() error {
	if b.page == nil {
		return nil
	}
	if err := b.page.SetDocumentContent(""); err != nil {
		return fmt.Errorf("clear page: %w", err)
	}
	return nil
}

// Close shuts the browser down
func (b *BrowserRasterizer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
	}
	b.browser, b.page, b.launcher = nil, nil, nil
	return err
}

// Rasterize loads the document's HTML into the shared page, waits up to the
// settle timeout for fonts and images, and captures the full page. Hitting
// the settle timeout is not an error; the page is captured as it is.
func (b *BrowserRasterizer) Rasterize(ctx context.Context, doc *Document) (image.Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensurePage(); err != nil {
		return nil, err
	}
	if err := b.resetLocked(); err != nil {
		return nil, err
	}

	page := b.page.Context(ctx)
	content := BuildHTML(doc, b.opts.ViewportWidth, b.opts.Margin)
	if err := page.SetDocumentContent(content); err != nil {
		return nil, fmt.Errorf("load document html: %w", err)
	}

	settling := page.Timeout(b.opts.SettleTimeout)
	_, err := settling.Evaluate(&rod.EvalOptions{JS: settleScript, AwaitPromise: true, ByValue: true})
	settling.CancelTimeout()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("wait for resources: %w", err)
		}
		b.logger.Warn("resource settle timeout reached, rasterizing anyway",
			zap.Duration("settle", b.opts.SettleTimeout))
	}

	if _, err := page.Evaluate(&rod.EvalOptions{
		JS:      pageBreakScript,
		JSArgs:  []interface{}{PageHeight(b.opts.ViewportWidth), b.opts.Margin},
		ByValue: true,
	}); err != nil {
		return nil, fmt.Errorf("paginate: %w", err)
	}

	shot, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	b.logger.Debug("document rasterized in browser",
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))
	return img, nil
}
