// Package secrets redacts credentials from user queries before they leave the
// process for an embedding or vector-search backend.
//
// Rules are regular expressions, optionally gated by keywords that must appear
// somewhere in the text. Overlapping matches are merged into one redaction.
package secrets

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultRedaction replaces every detected secret.
const DefaultRedaction = "[REDACTED]"

var redactionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "veritas",
		Subsystem: "secrets",
		Name:      "redactions_total",
		Help:      "Secrets redacted from queries by rule.",
	},
	[]string{"rule_id"},
)

// Rule detects one kind of secret.
type Rule struct {
	ID       string
	Pattern  string
	Keywords []string // at least one must occur (case-insensitive) for the rule to run
}

// Finding locates a redacted secret in the original text. The value itself is
// never kept.
type Finding struct {
	RuleID string `json:"rule_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// Scrubber redacts secrets. It is safe for concurrent use.
type Scrubber struct {
	rules     []compiledRule
	redaction string
	logger    *logging.Logger
}

// New compiles rules. Nil rules select DefaultRules.
func New(rules []Rule, logger *logging.Logger) (*Scrubber, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scrubber{redaction: DefaultRedaction, logger: logger.Named("secrets")}
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		cr := compiledRule{id: r.ID, pattern: re}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		s.rules = append(s.rules, cr)
	}
	return s, nil
}

// Scrub returns text with every secret replaced, plus what was found.
func (s *Scrubber) Scrub(text string) (string, []Finding) {
	var findings []Finding
	for _, r := range s.rules {
		if !r.applies(text) {
			continue
		}
		for _, m := range r.pattern.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{RuleID: r.id, Start: m[0], End: m[1]})
		}
	}
	if len(findings) == 0 {
		return text, nil
	}

	spans := merge(findings)
	out := text
	for i := len(spans) - 1; i >= 0; i-- {
		out = out[:spans[i].Start] + s.redaction + out[spans[i].End:]
	}
	return out, findings
}

// Enrich scrubs the retrieval query. It satisfies the orchestrator's
// QueryEnricher contract and never fails.
func (s *Scrubber) Enrich(ctx context.Context, query string, _ map[string]any) (string, error) {
	out, findings := s.Scrub(query)
	if len(findings) == 0 {
		return query, nil
	}
	rules := make([]string, 0, len(findings))
	for _, f := range findings {
		redactionsTotal.WithLabelValues(f.RuleID).Inc()
		rules = append(rules, f.RuleID)
	}
	s.logger.Warn(ctx, "secrets redacted from query", zap.Int("count", len(findings)), zap.Strings("rules", rules))
	return out, nil
}

func (r compiledRule) applies(text string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(text) {
			return true
		}
	}
	return false
}

// merge sorts findings by start and joins overlapping spans.
func merge(findings []Finding) []Finding {
	spans := make([]Finding, len(findings))
	copy(spans, findings)
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	out := []Finding{spans[0]}
	for _, f := range spans[1:] {
		last := &out[len(out)-1]
		if f.Start <= last.End {
			if f.End > last.End {
				last.End = f.End
			}
			continue
		}
		out = append(out, f)
	}
	return out
}
