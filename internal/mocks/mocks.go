// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Explore() config.ExploreConfig {
	args := m.Called()
	return args.Get(0).(config.ExploreConfig)
}

func (m *MockConfig) Viewports() []schemas.Viewport {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]schemas.Viewport)
}

func (m *MockConfig) Patterns() config.PatternsConfig {
	args := m.Called()
	return args.Get(0).(config.PatternsConfig)
}

func (m *MockConfig) Backend() config.BackendConfig {
	args := m.Called()
	return args.Get(0).(config.BackendConfig)
}

func (m *MockConfig) Report() config.ReportConfig {
	args := m.Called()
	return args.Get(0).(config.ReportConfig)
}

// --- Setters ---

func (m *MockConfig) SetExploreMaxDepth(d int)        { m.Called(d) }
func (m *MockConfig) SetExploreMaxStates(n int)       { m.Called(n) }
func (m *MockConfig) SetExploreConcurrency(n int)     { m.Called(n) }
func (m *MockConfig) SetExploreIsolation(mode string) { m.Called(mode) }
func (m *MockConfig) SetBrowserHeadless(b bool)       { m.Called(b) }

// -- Validator Mock --

// MockValidator mocks the schemas.Validator interface.
type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) Name() string { return m.Called().String(0) }

func (m *MockValidator) Validate(ctx context.Context, page schemas.Page, viewport string) (schemas.ValidatorReport, error) {
	args := m.Called(ctx, page, viewport)
	return args.Get(0).(schemas.ValidatorReport), args.Error(1)
}

// -- Backend Adapter Mock --

// MockBackendAdapter mocks the schemas.BackendAdapter interface.
type MockBackendAdapter struct {
	mock.Mock
}

func (m *MockBackendAdapter) Name() string { return m.Called().String(0) }

func (m *MockBackendAdapter) CaptureState(ctx context.Context) (json.RawMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockBackendAdapter) Verify(ctx context.Context, actionName string, exp schemas.Expectation) (schemas.Verification, error) {
	args := m.Called(ctx, actionName, exp)
	return args.Get(0).(schemas.Verification), args.Error(1)
}

// -- Page Mock --

// MockPage mocks the schemas.Page interface for collaborators that only need
// a handful of calls. Use FakeApp when a whole document is needed.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) Evaluate(ctx context.Context, call schemas.ScriptCall, out interface{}) error {
	return m.Called(ctx, call, out).Error(0)
}
func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockPage) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockPage) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockPage) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}
func (m *MockPage) Fill(ctx context.Context, selector, value string) error {
	return m.Called(ctx, selector, value).Error(0)
}
func (m *MockPage) Select(ctx context.Context, selector, value string) error {
	return m.Called(ctx, selector, value).Error(0)
}
func (m *MockPage) Check(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}
func (m *MockPage) Upload(ctx context.Context, selector string, files []string) error {
	return m.Called(ctx, selector, files).Error(0)
}
func (m *MockPage) Submit(ctx context.Context, formSelector string) error {
	return m.Called(ctx, formSelector).Error(0)
}
func (m *MockPage) WaitIdle(ctx context.Context, quiet time.Duration) error {
	return m.Called(ctx, quiet).Error(0)
}
func (m *MockPage) Viewport() schemas.Viewport {
	return m.Called().Get(0).(schemas.Viewport)
}
func (m *MockPage) ResetState(ctx context.Context, origin string) error {
	return m.Called(ctx, origin).Error(0)
}
func (m *MockPage) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Driver Mock --

// MockDriver mocks the schemas.Driver interface.
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) NewPage(ctx context.Context, viewport schemas.Viewport) (schemas.Page, error) {
	args := m.Called(ctx, viewport)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(schemas.Page), args.Error(1)
}
func (m *MockDriver) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }
