package validation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"github.com/xkilldash9x/scalpel-explorer/internal/mocks"
)

func newMockValidator(name string) *mocks.MockValidator {
	v := new(mocks.MockValidator)
	v.On("Name").Return(name)
	return v
}

func TestPipelineMergesReports(t *testing.T) {
	page := new(mocks.MockPage)
	contrast := newMockValidator("contrast")
	contrast.On("Validate", mock.Anything, page, "mobile").Return(schemas.ValidatorReport{
		Issues: []schemas.Issue{{Type: "accessibility", Severity: schemas.SeverityMinor, Rule: "color-contrast"}},
	}, nil)
	layout := newMockValidator("layout")
	layout.On("Validate", mock.Anything, page, "mobile").Return(schemas.ValidatorReport{
		ValidatorName: "layout",
		Issues:        []schemas.Issue{{Type: "layout", Severity: schemas.SeverityCritical, Rule: "overflow"}},
	}, nil)

	p := NewPipeline([]schemas.Validator{contrast, layout}, 2, time.Second, zap.NewNop())
	res := p.Run(context.Background(), page, "state-1", "mobile")

	require.Len(t, res.Issues, 2)
	assert.Zero(t, res.Errors)
	assert.Len(t, res.Reports, 2)
	assert.Equal(t, "overflow", res.Issues[0].Rule, "most severe first")
	for _, issue := range res.Issues {
		assert.Equal(t, "state-1", issue.StateID)
		assert.Equal(t, "mobile", issue.Viewport)
		assert.NotEmpty(t, issue.ID)
		assert.NotEmpty(t, issue.Validator)
		assert.False(t, issue.ObservedAt.IsZero())
	}
	assert.Equal(t, "contrast", res.Issues[1].Validator, "validator name fills in when the report omits it")
}

func TestPipelineContainsFailures(t *testing.T) {
	page := new(mocks.MockPage)

	broken := newMockValidator("broken")
	broken.On("Validate", mock.Anything, page, "desktop").Return(schemas.ValidatorReport{}, errors.New("selector engine missing"))

	panicky := newMockValidator("panicky")
	panicky.On("Validate", mock.Anything, page, "desktop").Run(func(mock.Arguments) { panic("nil map") }).Return(schemas.ValidatorReport{}, nil)

	healthy := newMockValidator("healthy")
	healthy.On("Validate", mock.Anything, page, "desktop").Return(schemas.ValidatorReport{
		Issues: []schemas.Issue{{Type: "layout", Severity: schemas.SeverityMinor, Rule: "spacing"}},
	}, nil)

	core, logs := observer.New(zapcore.WarnLevel)
	p := NewPipeline([]schemas.Validator{broken, panicky, healthy}, 1, time.Second, zap.New(core))
	res := p.Run(context.Background(), page, "s", "desktop")

	assert.Equal(t, 2, res.Errors)
	require.Len(t, res.Issues, 3)
	var rules []string
	for _, issue := range res.Issues {
		rules = append(rules, issue.Rule)
		if issue.Type == IssueTypeValidatorError {
			assert.Equal(t, schemas.SeverityModerate, issue.Severity)
		}
	}
	assert.ElementsMatch(t, []string{IssueTypeValidatorError, IssueTypeValidatorError, "spacing"}, rules)
	assert.Equal(t, 1, logs.FilterMessage("Validator panicked").Len())
	assert.Equal(t, 1, logs.FilterMessage("Validator failed").Len())
}

type slowValidator struct{ running, peak atomic.Int32 }

func (s *slowValidator) Name() string { return "slow" }

func (s *slowValidator) Validate(ctx context.Context, _ schemas.Page, _ string) (schemas.ValidatorReport, error) {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-time.After(20 * time.Millisecond):
		return schemas.ValidatorReport{}, nil
	case <-ctx.Done():
		return schemas.ValidatorReport{}, ctx.Err()
	}
}

func TestPipelineConcurrencyLimit(t *testing.T) {
	slow := &slowValidator{}
	validators := []schemas.Validator{slow, slow, slow, slow, slow, slow}

	res := NewPipeline(validators, 2, time.Second, zap.NewNop()).Run(context.Background(), nil, "s", "desktop")
	assert.Zero(t, res.Errors)
	assert.LessOrEqual(t, slow.peak.Load(), int32(2))
}

func TestPipelineTimeout(t *testing.T) {
	slow := &slowValidator{}
	res := NewPipeline([]schemas.Validator{slow}, 1, time.Millisecond, zap.NewNop()).Run(context.Background(), nil, "s", "desktop")
	assert.Equal(t, 1, res.Errors)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Description, "deadline exceeded")
}

func TestFromNames(t *testing.T) {
	vs, err := FromNames([]string{PageBasicsName})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, PageBasicsName, vs[0].Name())

	_, err = FromNames([]string{"page-basics", "lighthouse"})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
