// File: internal/validation/pipeline.go
package validation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
)

const (
	// IssueTypeValidatorError marks issues produced when a validator itself failed.
	IssueTypeValidatorError = "validator-error"

	defaultConcurrency = 4
	defaultTimeout     = 30 * time.Second
)

// Result is the merged outcome of all validators for one state.
type Result struct {
	Issues  []schemas.Issue
	Reports []schemas.ValidatorReport
	// Errors counts validators that failed, panicked or timed out.
	Errors int
}

// Pipeline runs a fixed set of validators against a live page. Validators run
// concurrently up to the configured limit; a failing validator turns into a
// moderate issue and never aborts the others.
type Pipeline struct {
	validators  []schemas.Validator
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewPipeline creates a validation pipeline.
func NewPipeline(validators []schemas.Validator, concurrency int, timeout time.Duration, logger *zap.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Pipeline{
		validators:  validators,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger.Named("validation_pipeline"),
		now:         time.Now,
	}
}

// Len reports how many validators the pipeline runs.
func (p *Pipeline) Len() int { return len(p.validators) }

// Run validates the page at stateID. Issues come back stamped with the state,
// viewport, validator name, an id and an observation time, sorted by severity.
func (p *Pipeline) Run(ctx context.Context, page schemas.Page, stateID, viewport string) Result {
	if len(p.validators) == 0 {
		return Result{}
	}

	reports := make([]schemas.ValidatorReport, len(p.validators))
	failed := make([]bool, len(p.validators))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, v := range p.validators {
		g.Go(func() error {
			reports[i], failed[i] = p.runOne(ctx, v, page, viewport)
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for i := range reports {
		if failed[i] {
			res.Errors++
		}
		for _, issue := range reports[i].Issues {
			res.Issues = append(res.Issues, p.stamp(issue, reports[i].ValidatorName, stateID, viewport))
		}
		res.Reports = append(res.Reports, reports[i])
	}
	sort.SliceStable(res.Issues, func(i, j int) bool {
		return res.Issues[i].Severity.Rank() > res.Issues[j].Severity.Rank()
	})
	return res
}

// runOne executes a single validator, converting errors and panics into a
// validator-error report.
func (p *Pipeline) runOne(ctx context.Context, v schemas.Validator, page schemas.Page, viewport string) (report schemas.ValidatorReport, failed bool) {
	name := v.Name()
	start := p.now()
	vctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Validator panicked",
				zap.String("validator", name),
				zap.Any("panicValue", r),
				zap.String("stack", string(debug.Stack())),
			)
			report = errorReport(name, fmt.Errorf("panic: %v", r), viewport, p.now().Sub(start))
			failed = true
		}
	}()

	report, err := v.Validate(vctx, page, viewport)
	if err != nil {
		p.logger.Warn("Validator failed", zap.String("validator", name), zap.Error(err))
		return errorReport(name, err, viewport, p.now().Sub(start)), true
	}
	if report.ValidatorName == "" {
		report.ValidatorName = name
	}
	if report.DurationMs == 0 {
		report.DurationMs = p.now().Sub(start).Milliseconds()
	}
	return report, false
}

func errorReport(name string, err error, viewport string, took time.Duration) schemas.ValidatorReport {
	return schemas.ValidatorReport{
		ValidatorName: name,
		DurationMs:    took.Milliseconds(),
		Issues: []schemas.Issue{{
			Type:        IssueTypeValidatorError,
			Severity:    schemas.SeverityModerate,
			Rule:        IssueTypeValidatorError,
			Description: fmt.Sprintf("validator %s failed: %v", name, err),
			Viewport:    viewport,
		}},
	}
}

func (p *Pipeline) stamp(issue schemas.Issue, validator, stateID, viewport string) schemas.Issue {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	issue.StateID = stateID
	if issue.Viewport == "" {
		issue.Viewport = viewport
	}
	if issue.Validator == "" {
		issue.Validator = validator
	}
	if issue.ObservedAt.IsZero() {
		issue.ObservedAt = p.now().UTC()
	}
	if _, ok := schemas.ParseSeverity(string(issue.Severity)); !ok {
		issue.Severity = schemas.SeverityModerate
	}
	return issue
}

// -- Registry --

// builtins maps configuration names onto validator constructors.
var builtins = map[string]func() schemas.Validator{
	PageBasicsName: func() schemas.Validator { return NewPageBasics() },
}

// FromNames resolves the configured validator names. Unknown names are a
// configuration error.
func FromNames(names []string) ([]schemas.Validator, error) {
	out := make([]schemas.Validator, 0, len(names))
	for _, n := range names {
		ctor, ok := builtins[n]
		if !ok {
			return nil, fmt.Errorf("%w: unknown validator %q", config.ErrConfiguration, n)
		}
		out = append(out, ctor())
	}
	return out, nil
}
