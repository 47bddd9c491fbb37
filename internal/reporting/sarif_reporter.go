// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/observability"
	"github.com/xkilldash9x/scalpel-explorer/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "Scalpel Explorer"
	ToolInfoURI  = "https://github.com/xkilldash9x/scalpel-explorer"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"

	rulePrefix         = "EXPLORER-"
	issueFingerprintID = "explorerIssue/v1"
)

// ruleIDSanitizer matches runs of characters not allowed in rule ids; each
// run collapses into a single hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// RuleFingerprint identifies a rule definition by content, so two validators
// that happen to share a rule name still get distinct SARIF rules.
type RuleFingerprint string

func calculateFingerprint(issue schemas.Issue) RuleFingerprint {
	data := struct {
		Rule      string
		Validator string
		Type      string
		HelpURL   string
	}{issue.Rule, issue.Validator, issue.Type, issue.HelpURL}

	h := sha1.New()
	_ = json.NewEncoder(h).Encode(data)
	return RuleFingerprint(hex.EncodeToString(h.Sum(nil)))
}

// issueFingerprint is stable across runs for the same defect on the same
// state, which lets code scanning tools track it.
func issueFingerprint(issue schemas.Issue) string {
	elements := append([]string(nil), issue.Elements...)
	sort.Strings(elements)
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", issue.Validator, issue.Rule, issue.StateID, issue.Viewport, strings.Join(elements, ","))
	return hex.EncodeToString(h.Sum(nil))
}

// SARIFReporter renders exploration issues as SARIF 2.1.0. Results are
// buffered and encoded on Close. It is safe for concurrent use.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log

	mu                 sync.Mutex
	rulesByFingerprint map[RuleFingerprint]string
	ruleIDUsage        map[string]int
}

// NewSARIFReporter creates a reporter that owns writer.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:             writer,
		logger:             observability.GetLogger().Named("sarif_reporter"),
		log:                log,
		rulesByFingerprint: make(map[RuleFingerprint]string),
		ruleIDUsage:        make(map[string]int),
	}
}

// Write adds one SARIF result per issue and records the run summary.
func (r *SARIFReporter) Write(result *schemas.ExplorationResult) error {
	if result == nil {
		return errNilResult
	}
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	urls := make(map[string]string, len(result.Graph.Nodes))
	for _, n := range result.Graph.Nodes {
		urls[n.ID] = n.State.URL
	}

	run := r.log.Runs[0]
	for _, issue := range result.Issues {
		ruleID := r.ensureRule(issue)

		text := issue.Description
		if text == "" {
			text = issue.Rule
		}
		run.Results = append(run.Results, &sarif.Result{
			RuleID:              ruleID,
			Message:             &sarif.Message{Text: pString(text)},
			Level:               mapSeverityToSARIFLevel(issue.Severity),
			Locations:           createLocations(issue, urls[issue.StateID]),
			PartialFingerprints: map[string]string{issueFingerprintID: issueFingerprint(issue)},
			Properties:          issueProperties(issue),
		})
	}

	run.Invocations = []*sarif.Invocation{newInvocation(result.Summary)}
	run.Properties = &sarif.PropertyBag{"summary": result.Summary}

	if len(result.Issues) > 0 {
		r.logger.Debug("Wrote issues to SARIF buffer",
			zap.Int("issues_count", len(result.Issues)),
			zap.Duration("duration", time.Since(startTime)),
		)
	}
	return nil
}

// Close encodes the log and closes the writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	encodeErr := encodeIndented(r.writer, r.log)
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

func sanitizeRuleName(name string) string {
	if name == "" {
		return "UNNAMED-RULE"
	}
	sanitized := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(name), "-"), "-")
	if sanitized == "" {
		return "UNKNOWN-RULE"
	}
	return sanitized
}

// ensureRule returns the rule id for issue, registering the rule on first
// sight. Must be called with r.mu held.
func (r *SARIFReporter) ensureRule(issue schemas.Issue) string {
	fingerprint := calculateFingerprint(issue)
	if ruleID, exists := r.rulesByFingerprint[fingerprint]; exists {
		return ruleID
	}

	baseRuleID := rulePrefix + sanitizeRuleName(issue.Rule)
	usage := r.ruleIDUsage[baseRuleID]
	r.ruleIDUsage[baseRuleID] = usage + 1

	ruleID := baseRuleID
	if usage > 0 {
		ruleID = fmt.Sprintf("%s-%d", baseRuleID, usage)
		r.logger.Debug("Rule ID collision detected, generated new ID with suffix",
			zap.String("base_id", baseRuleID),
			zap.String("final_id", ruleID),
		)
	}

	rule := &sarif.ReportingDescriptor{
		ID:               ruleID,
		Name:             pString(issue.Rule),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(fmt.Sprintf("%s: %s", issue.Type, issue.Rule))},
		Properties: &sarif.PropertyBag{
			"tags":      []string{issue.Type, "explorer"},
			"validator": issue.Validator,
		},
	}
	if issue.HelpURL != "" {
		rule.HelpURI = pString(issue.HelpURL)
		rule.Help = &sarif.MultiformatMessageString{
			Text:     pString(issue.HelpURL),
			Markdown: pString(fmt.Sprintf("See [%s](%s).", issue.Rule, issue.HelpURL)),
		}
	}

	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, rule)
	r.rulesByFingerprint[fingerprint] = ruleID
	return ruleID
}

// createLocations points at the state's URL and names the state logically.
// The physical location is left out when the state is not in the graph.
func createLocations(issue schemas.Issue, url string) []*sarif.Location {
	loc := &sarif.Location{
		LogicalLocations: []*sarif.LogicalLocation{{
			Name:               pString(issue.StateID),
			FullyQualifiedName: pString(issue.Viewport + "/" + issue.StateID),
			Kind:               pString("state"),
		}},
	}
	if url != "" {
		loc.PhysicalLocation = &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(url)},
		}
		loc.Message = &sarif.Message{Text: pString(fmt.Sprintf("Observed at %s (%s)", url, issue.Viewport))}
	}
	return []*sarif.Location{loc}
}

func issueProperties(issue schemas.Issue) *sarif.PropertyBag {
	props := sarif.PropertyBag{
		"type":      issue.Type,
		"severity":  string(issue.Severity),
		"state_id":  issue.StateID,
		"viewport":  issue.Viewport,
		"validator": issue.Validator,
	}
	if len(issue.Elements) > 0 {
		props["elements"] = issue.Elements
	}
	if len(issue.Details) > 0 {
		props["details"] = issue.Details
	}
	return &props
}

func newInvocation(summary schemas.Summary) *sarif.Invocation {
	inv := &sarif.Invocation{
		ExecutionSuccessful: summary.TerminationReason != schemas.TerminationFatal && len(summary.Errors) == 0,
		ExitCodeDescription: pString(string(summary.TerminationReason)),
	}
	if !summary.StartedAt.IsZero() {
		start := summary.StartedAt.UTC()
		end := start.Add(time.Duration(summary.DurationMs) * time.Millisecond)
		inv.StartTimeUTC = pString(start.Format(time.RFC3339Nano))
		inv.EndTimeUTC = pString(end.Format(time.RFC3339Nano))
	}
	return inv
}

// mapSeverityToSARIFLevel converts an issue severity to the SARIF level.
func mapSeverityToSARIFLevel(severity schemas.Severity) sarif.Level {
	switch severity {
	case schemas.SeverityCritical, schemas.SeveritySerious:
		return sarif.LevelError
	case schemas.SeverityModerate:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to s, for optional SARIF fields.
func pString(s string) *string {
	return &s
}
