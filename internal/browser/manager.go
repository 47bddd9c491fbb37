// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
)

const (
	launchTimeout        = 30 * time.Second
	defaultPageCloseWait = 5 * time.Second
)

var _ schemas.Driver = (*Manager)(nil)

// Manager owns the headless Chrome process and hands out isolated pages.
// Every page lives in its own browser context, so cookies and storage never
// leak between pages.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx manages the browser process; browserCtx holds the first
	// target, which keeps the browser alive for the manager's lifetime.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	mu     sync.Mutex
	pages  map[*Page]struct{}
	closed bool
}

// NewManager launches the browser and verifies it responds.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		pages:  make(map[*Page]struct{}),
	}
	if err := m.launch(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

func (m *Manager) launch(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", m.cfg.Headless))

	// The process must outlive the caller's context; Close ends it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), buildAllocatorOptions(m.cfg)...)
	var ctxOpts []chromedp.ContextOption
	if m.cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(m.logger.Sugar().Debugf))
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx, chromedp.Navigate("about:blank")) }()

	select {
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return fmt.Errorf("browser failed to start or respond: %w", err)
		}
	case <-time.After(launchTimeout):
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser did not respond within %s", launchTimeout)
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return ctx.Err()
	}

	m.allocatorCtx, m.allocatorCancel = allocCtx, allocCancel
	m.browserCtx, m.browserCancel = browserCtx, browserCancel
	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions assembles the launch flags.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Containers on Linux need these to start at all.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// NewPage opens a tab in a fresh browser context sized to viewport. The tab
// is bound to the manager, not to ctx; ctx only bounds the setup.
func (m *Manager) NewPage(ctx context.Context, viewport schemas.Viewport) (schemas.Page, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: browser manager is closed", schemas.ErrAutomationFatal)
	}
	m.mu.Unlock()
	if m.browserCtx.Err() != nil {
		return nil, fmt.Errorf("%w: browser process is gone: %v", schemas.ErrAutomationFatal, m.browserCtx.Err())
	}

	tabCtx, cancel := chromedp.NewContext(m.browserCtx, chromedp.WithNewBrowserContext())
	p := newPage(tabCtx, cancel, viewport, m.cfg, m.logger)
	if err := p.init(ctx); err != nil {
		cancel()
		return nil, err
	}

	m.mu.Lock()
	m.pages[p] = struct{}{}
	m.mu.Unlock()
	p.onClose = func() {
		m.mu.Lock()
		delete(m.pages, p)
		m.mu.Unlock()
	}
	return p, nil
}

// Close closes every open page and terminates the browser process.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pages := make([]*Page, 0, len(m.pages))
	for p := range m.pages {
		pages = append(pages, p)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down browser.", zap.Int("open_pages", len(pages)))
	for _, p := range pages {
		if err := p.Close(ctx); err != nil {
			m.logger.Debug("Closing page failed.", zap.Error(err))
		}
	}

	m.browserCancel()
	m.allocatorCancel()
	select {
	case <-m.allocatorCtx.Done():
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded while waiting for the browser to exit.", zap.Error(ctx.Err()))
	}
	return nil
}
