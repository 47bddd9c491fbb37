// internal/explorer/pages.go
package explorer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
)

const closeTimeout = 5 * time.Second

// lease is a page borrowed for one unit of work.
type lease struct {
	page    schemas.Page
	release func()
}

// pageSource hands out pages according to the isolation mode. In fresh mode
// every lease is a new page that is closed on release. In shared mode each
// root keeps one page for the whole phase.
type pageSource struct {
	driver    schemas.Driver
	isolation string
	viewport  schemas.Viewport
	timeout   time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	shared map[string]schemas.Page
}

func newPageSource(driver schemas.Driver, isolation string, vp schemas.Viewport, timeout time.Duration, logger *zap.Logger) *pageSource {
	return &pageSource{
		driver:    driver,
		isolation: isolation,
		viewport:  vp,
		timeout:   timeout,
		logger:    logger,
		shared:    make(map[string]schemas.Page),
	}
}

func (s *pageSource) acquire(ctx context.Context, rootKey string) (lease, error) {
	if s.isolation != config.IsolationShared {
		page, err := s.open(ctx)
		if err != nil {
			return lease{}, err
		}
		return lease{page: page, release: func() { s.close(page) }}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.shared[rootKey]
	if !ok {
		var err error
		if page, err = s.open(ctx); err != nil {
			return lease{}, err
		}
		s.shared[rootKey] = page
	}
	return lease{page: page, release: func() {}}, nil
}

func (s *pageSource) open(ctx context.Context) (schemas.Page, error) {
	octx, cancel := actionContext(ctx, s.timeout)
	defer cancel()
	return s.driver.NewPage(octx, s.viewport)
}

func (s *pageSource) close(page schemas.Page) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := page.Close(ctx); err != nil {
		s.logger.Debug("Closing page failed.", zap.Error(err))
	}
}

// closeRoot closes the shared page of an aborted root.
func (s *pageSource) closeRoot(rootKey string) {
	s.mu.Lock()
	page, ok := s.shared[rootKey]
	delete(s.shared, rootKey)
	s.mu.Unlock()
	if ok {
		s.close(page)
	}
}

// closeAll closes every shared page.
func (s *pageSource) closeAll() {
	s.mu.Lock()
	pages := s.shared
	s.shared = make(map[string]schemas.Page)
	s.mu.Unlock()
	for _, p := range pages {
		s.close(p)
	}
}
