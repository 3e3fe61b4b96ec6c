// Package secrets provides the secret scrub pass applied to content before
// it is summarized, embedded or stored, using the Gitleaks SDK.
package secrets

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Finding is one detected secret with location information.
type Finding struct {
	RuleID   string // Gitleaks rule ID (e.g., "github-pat")
	RuleDesc string
	Line     int
	StartCol int
	EndCol   int
	Match    string
}

// Report summarizes one scrub pass. It never carries secret values, only
// rule metadata safe to log.
type Report struct {
	Total      int            `json:"total"`
	RuleCounts map[string]int `json:"rule_counts,omitempty"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// Clean reports whether the pass found nothing to redact.
func (r Report) Clean() bool { return r.Total == 0 }

// Config holds scrubber settings.
type Config struct {
	// ProjectPath is a directory that may contain .gitleaks.toml (empty to skip).
	ProjectPath string

	// UserAllowlist is a full path to a user allowlist.toml (empty to skip).
	UserAllowlist string

	// Disabled turns the pass into a no-op. Off by default: content is
	// scrubbed unless explicitly opted out.
	Disabled bool
}

// Scrubber detects and redacts secrets. The underlying Gitleaks detector
// with its default ruleset is built once at construction and is safe for
// concurrent use.
type Scrubber struct {
	detector *detect.Detector
	disabled bool
}

// NewScrubber builds a scrubber with the default Gitleaks ruleset plus any
// allowlists found at the configured paths. Missing allowlist files are
// ignored; invalid ones are errors.
func NewScrubber(cfg Config) (*Scrubber, error) {
	if cfg.Disabled {
		return &Scrubber{disabled: true}, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}

	allowlist, err := LoadAllowlists(cfg.ProjectPath, cfg.UserAllowlist)
	if err != nil {
		return nil, err
	}
	if len(allowlist.Paths) > 0 || len(allowlist.Regexes) > 0 {
		applyAllowlist(&detector.Config, allowlist)
	}

	return &Scrubber{detector: detector}, nil
}

// Scrub replaces detected secrets with [REDACTED:rule-id:preview] markers.
// The marker keeps semantic context for embeddings while hiding the value.
func (s *Scrubber) Scrub(content string) (string, Report, error) {
	if s.disabled || content == "" {
		return content, Report{}, nil
	}
	start := time.Now()

	findings := s.Detect(content)
	report := Report{
		Total:   len(findings),
		Elapsed: time.Since(start),
	}
	if len(findings) == 0 {
		return content, report, nil
	}

	report.RuleCounts = make(map[string]int, len(findings))
	for _, f := range findings {
		report.RuleCounts[f.RuleID]++
	}
	return replaceFindings(content, findings), report, nil
}

// Detect scans content and returns findings with position information.
func (s *Scrubber) Detect(content string) []Finding {
	if s.disabled {
		return nil
	}
	raw := s.detector.DetectString(content)
	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}
	return findings
}

// applyAllowlist merges allowlist patterns into the Gitleaks config.
// Patterns are pre-validated in loadTOML; compilation cannot fail here.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "strata user/project allowlist",
	}
	for _, pattern := range allowlist.Paths {
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	for _, pattern := range allowlist.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}

// replaceFindings replaces secrets with redaction markers, working backwards
// through findings so earlier string indices stay valid.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")
	for _, f := range sorted {
		if f.Line < 1 || f.Line > len(lines) {
			continue
		}
		line := lines[f.Line-1]
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Match, 4))
		if f.StartCol >= 0 && f.EndCol <= len(line) {
			lines[f.Line-1] = line[:f.StartCol] + marker + line[f.EndCol:]
		}
	}
	return strings.Join(lines, "\n")
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
