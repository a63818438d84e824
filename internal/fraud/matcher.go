package fraud

import (
	"context"
	"strconv"

	"fraudwatch/internal/logger"
	"fraudwatch/pkg/cel"
	"fraudwatch/pkg/metrics"
	"fraudwatch/pkg/models"
)

// EvalInput is the text under evaluation plus its origin. Text is the
// case-folded form, Raw the canonical one.
type EvalInput struct {
	Text   string
	Raw    string
	ChatID string
	UserID string
	Kind   models.Kind
	Source models.ContentSource
}

func InputFromContent(c models.NormalizedContent, ev models.InboundEvent) EvalInput {
	return EvalInput{
		Text:   c.MatchText,
		Raw:    c.Canonical,
		ChatID: ev.ChatID,
		UserID: ev.UserID,
		Kind:   ev.Kind,
		Source: c.Source,
	}
}

func (in EvalInput) subject(caseSensitive bool) string {
	if caseSensitive {
		return in.Raw
	}
	return in.Text
}

func (in EvalInput) celInput() cel.Input {
	return cel.Input{
		Text:   in.Text,
		Raw:    in.Raw,
		ChatID: in.ChatID,
		UserID: in.UserID,
		Kind:   string(in.Kind),
		Source: string(in.Source),
	}
}

// Matcher is immutable once built and safe for concurrent use.
type Matcher struct {
	rules     []compiledRule
	threshold int
	logger    logger.Logger
}

func NewMatcher(rules []Rule, threshold int, eval *cel.Evaluator, log logger.Logger) (*Matcher, error) {
	compiled, err := compileRules(rules, eval)
	if err != nil {
		return nil, err
	}
	metrics.SetActiveRules(len(compiled))
	return &Matcher{
		rules:     compiled,
		threshold: threshold,
		logger:    log,
	}, nil
}

// Match evaluates every enabled rule in order and aggregates the result.
// The verdict is flagged when the summed severity reaches the threshold or
// any critical rule matched.
func (m *Matcher) Match(ctx context.Context, in EvalInput) models.FraudVerdict {
	verdict := models.FraudVerdict{MatchedRules: []string{}}
	if in.Text == "" && in.Raw == "" {
		return verdict
	}

	for _, r := range m.rules {
		hit, err := r.match(ctx, in)
		if err != nil {
			m.logger.WarnwCtx(ctx, "Rule evaluation failed, treating as no match",
				"rule_id", r.ID,
				"error", err,
			)
			continue
		}
		if !hit {
			continue
		}
		verdict.MatchedRules = append(verdict.MatchedRules, r.ID)
		verdict.Score += r.Severity
		if r.Critical {
			verdict.Critical = true
		}
		metrics.IncRuleMatch(r.ID)
	}

	verdict.Flagged = verdict.Critical || verdict.Score >= m.threshold
	metrics.FraudVerdictsTotal.WithLabelValues(strconv.FormatBool(verdict.Flagged)).Inc()
	return verdict
}

func (m *Matcher) Threshold() int {
	return m.threshold
}

// Rules returns the enabled rules in evaluation order.
func (m *Matcher) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.Rule
	}
	return out
}
