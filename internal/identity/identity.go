// internal/identity/identity.go
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/fnv"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"github.com/xkilldash9x/scalpel-explorer/internal/pagescript"
	"go.uber.org/zap"
)

const (
	defaultTextLimit    = 32
	defaultPositionGrid = 10.0
	stateIDLength       = 16 // Hex characters kept from the SHA-256 digest.
	fieldSep            = "\x1f"
)

// Options tunes how pages are turned into identities.
type Options struct {
	IncludeQuery bool
	IncludeHash  bool
	Sensitivity  string
	TextLimit    int     // Bytes of element text kept at medium and high sensitivity.
	PositionGrid float64 // Pixel grid positions are rounded to at high sensitivity.
	Selectors    []string
	// Custom replaces ComputeStateID when set.
	Custom schemas.IdentityFunc
}

// OptionsFromConfig maps the explore section onto identity options.
func OptionsFromConfig(cfg config.ExploreConfig) Options {
	return Options{
		IncludeQuery: cfg.IncludeQuery,
		IncludeHash:  cfg.IncludeHash,
		Sensitivity:  cfg.Sensitivity,
		Selectors:    append(append([]string{}, pagescript.InteractiveSelectors...), cfg.ExtraSelectors...),
	}
}

// Engine captures page snapshots and derives their identity. One Engine (and
// its cache) belongs to a single run.
type Engine struct {
	opts   Options
	cache  *Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an identity engine with an empty cache.
func NewEngine(opts Options, logger *zap.Logger) *Engine {
	if opts.TextLimit <= 0 {
		opts.TextLimit = defaultTextLimit
	}
	if opts.PositionGrid <= 0 {
		opts.PositionGrid = defaultPositionGrid
	}
	if opts.Sensitivity == "" {
		opts.Sensitivity = config.SensitivityMedium
	}
	if len(opts.Selectors) == 0 {
		opts.Selectors = pagescript.InteractiveSelectors
	}
	return &Engine{
		opts:   opts,
		cache:  NewCache(),
		logger: logger.Named("IdentityEngine"),
		now:    time.Now,
	}
}

// Cache exposes the per-run state cache.
func (e *Engine) Cache() *Cache { return e.cache }

// StateID applies the custom identity function if configured, otherwise ComputeStateID.
func (e *Engine) StateID(in schemas.IdentityInput) string {
	if e.opts.Custom != nil {
		return e.opts.Custom(in)
	}
	return ComputeStateID(in)
}

// CanonicalPath reduces a URL to the part that participates in identity.
func (e *Engine) CanonicalPath(rawURL string) (string, error) {
	return CanonicalPath(rawURL, e.opts.IncludeQuery, e.opts.IncludeHash)
}

// CaptureState snapshots the live page and returns its identity-bearing state.
// A state already in the cache is returned as is.
func (e *Engine) CaptureState(ctx context.Context, page schemas.Page, viewport string) (*schemas.AppState, error) {
	rawURL, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading page url: %w", err)
	}
	path, err := e.CanonicalPath(rawURL)
	if err != nil {
		return nil, err
	}

	sigs, err := pagescript.Signatures(ctx, page, pagescript.FingerprintArgs{
		Selectors: e.opts.Selectors,
		TextLimit: e.opts.TextLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("fingerprinting page: %w", err)
	}
	fingerprint := Fingerprint(sigs, e.opts.Sensitivity, e.opts.TextLimit, e.opts.PositionGrid)

	overlayInfo, err := pagescript.DetectOverlay(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("detecting overlay: %w", err)
	}
	overlay := OverlayToken(overlayInfo)

	id := e.StateID(schemas.IdentityInput{Path: path, Fingerprint: fingerprint, Overlay: overlay, Viewport: viewport})
	if cached, ok := e.cache.Get(id); ok {
		return cached, nil
	}

	title, err := page.Title(ctx)
	if err != nil {
		e.logger.Debug("Could not read page title.", zap.String("url", rawURL), zap.Error(err))
	}
	forms, err := pagescript.SnapshotForms(ctx, page)
	if err != nil {
		// Forms are diagnostics only; identity does not depend on them.
		e.logger.Debug("Form snapshot failed.", zap.String("url", rawURL), zap.Error(err))
	}

	state := &schemas.AppState{
		ID:          id,
		URL:         rawURL,
		Path:        path,
		Title:       title,
		Fingerprint: fingerprint,
		Overlay:     overlay,
		Forms:       sanitizeForms(forms),
		Viewport:    viewport,
		CapturedAt:  e.now().UTC(),
	}
	return e.cache.Put(state), nil
}

// -- Pure identity functions --

// ComputeStateID is a truncated SHA-256 over the four identity components.
// Each component is length prefixed, so no value can stand in for another
// and an absent overlay differs from every overlay token.
func ComputeStateID(in schemas.IdentityInput) string {
	h := sha256.New()
	for _, field := range []string{in.Path, in.Fingerprint, in.Overlay, in.Viewport} {
		h.Write([]byte(strconv.Itoa(len(field))))
		h.Write([]byte{':'})
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))[:stateIDLength]
}

// CanonicalPath normalizes the path of rawURL, optionally keeping a sorted
// query string and the fragment.
func CanonicalPath(rawURL string, includeQuery, includeHash bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}

	var sb strings.Builder
	sb.WriteString(p)
	if includeQuery && u.RawQuery != "" {
		sb.WriteString("?")
		sb.WriteString(u.Query().Encode()) // Encode sorts by key.
	}
	if includeHash && u.Fragment != "" {
		sb.WriteString("#")
		sb.WriteString(u.Fragment)
	}
	return sb.String(), nil
}

var hasherPool = sync.Pool{
	New: func() interface{} { return fnv.New64a() },
}

// Fingerprint hashes the sorted canonical serialization of the elements. The
// sensitivity tier decides which attributes take part.
func Fingerprint(sigs []pagescript.ElementSignature, sensitivity string, textLimit int, grid float64) string {
	lines := make([]string, 0, len(sigs))
	for _, s := range sigs {
		lines = append(lines, canonicalLine(s, sensitivity, textLimit, grid))
	}
	sort.Strings(lines)

	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()
	for _, l := range lines {
		_, _ = hasher.Write([]byte(l))
		_, _ = hasher.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", hasher.Sum64())
}

func canonicalLine(s pagescript.ElementSignature, sensitivity string, textLimit int, grid float64) string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(s.Tag))
	sb.WriteString(fieldSep)
	sb.WriteString(strings.ToLower(s.Role))
	if sensitivity == config.SensitivityLow {
		return sb.String()
	}

	sb.WriteString(fieldSep)
	sb.WriteString(truncateBytes(strings.ToLower(strings.Join(strings.Fields(s.Text), " ")), textLimit))
	if sensitivity != config.SensitivityHigh {
		return sb.String()
	}

	if grid <= 0 {
		grid = defaultPositionGrid
	}
	sb.WriteString(fieldSep)
	sb.WriteString(strconv.FormatInt(int64(math.Round(s.X/grid)), 10))
	sb.WriteString(",")
	sb.WriteString(strconv.FormatInt(int64(math.Round(s.Y/grid)), 10))
	return sb.String()
}

// OverlayToken derives a stable marker for a visible overlay, preferring its
// id, then its label, then its sorted class list. Empty means no overlay.
func OverlayToken(info pagescript.OverlayInfo) string {
	if !info.Present {
		return ""
	}
	if info.ID != "" {
		return "#" + info.ID
	}
	if label := strings.TrimSpace(info.Label); label != "" {
		return "label:" + strings.ToLower(truncateBytes(label, 48))
	}
	if classes := strings.Fields(info.ClassName); len(classes) > 0 {
		sort.Strings(classes)
		return "class:" + strings.Join(classes, ".")
	}
	return "dialog"
}

func sanitizeForms(fields []schemas.FormField) []schemas.FormField {
	if len(fields) == 0 {
		return nil
	}
	out := make([]schemas.FormField, 0, len(fields))
	for _, f := range fields {
		switch strings.ToLower(f.Type) {
		case "password", "hidden", "file":
			continue
		}
		out = append(out, f)
	}
	return out
}

// truncateBytes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateBytes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
