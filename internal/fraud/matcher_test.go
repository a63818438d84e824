package fraud

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudwatch/internal/logger"
	"fraudwatch/pkg/cel"
	pkgerrors "fraudwatch/pkg/errors"
	"fraudwatch/pkg/models"
)

func newMatcher(t *testing.T, rules []Rule, threshold int) *Matcher {
	t.Helper()
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	m, err := NewMatcher(rules, threshold, eval, logger.NopLogger())
	require.NoError(t, err)
	return m
}

func input(text string) EvalInput {
	return EvalInput{
		Text:   strings.ToLower(text),
		Raw:    text,
		ChatID: "1",
		UserID: "2",
		Kind:   models.KindText,
		Source: models.SourceText,
	}
}

func exampleRules() []Rule {
	return []Rule{
		{
			ID:        "urgent-payment-keyword",
			Kind:      KindKeywordSet,
			Severity:  5,
			WholeWord: true,
			Patterns:  []string{"urgent", "urgently"},
			Enabled:   true,
		},
		{
			ID:       "account-number-pattern",
			Kind:     KindRegex,
			Severity: 3,
			Patterns: []string{`account\s+\d{4}`},
			Enabled:  true,
		},
	}
}

func TestMatcher_ConcreteExample(t *testing.T) {
	m := newMatcher(t, exampleRules(), 6)

	v := m.Match(context.Background(), input("send money urgently to account 4532..."))

	assert.True(t, v.Flagged)
	assert.Equal(t, 8, v.Score)
	assert.Equal(t, []string{"urgent-payment-keyword", "account-number-pattern"}, v.MatchedRules)
	assert.False(t, v.Critical)
}

func TestMatcher_DefaultsConcreteExample(t *testing.T) {
	m := newMatcher(t, DefaultRules(), 6)

	v := m.Match(context.Background(), input("send money urgently to account 4532..."))

	assert.True(t, v.Flagged)
	assert.Equal(t, 8, v.Score)
	assert.Equal(t, []string{"urgent-payment-keyword", "account-number-pattern"}, v.MatchedRules)
}

func TestMatcher_BelowThreshold(t *testing.T) {
	m := newMatcher(t, exampleRules(), 6)

	v := m.Match(context.Background(), input("this is urgent"))
	assert.False(t, v.Flagged)
	assert.Equal(t, 5, v.Score)
	assert.Equal(t, []string{"urgent-payment-keyword"}, v.MatchedRules)
}

func TestMatcher_CriticalOverride(t *testing.T) {
	rules := append(exampleRules(), Rule{
		ID:        "brand-mention",
		Kind:      KindLiteral,
		Severity:  1,
		Critical:  true,
		WholeWord: true,
		Patterns:  []string{"cloudwalk"},
		Enabled:   true,
	})
	m := newMatcher(t, rules, 100)

	v := m.Match(context.Background(), input("Talk to CloudWalk support"))
	assert.True(t, v.Flagged)
	assert.True(t, v.Critical)
	assert.Equal(t, 1, v.Score)
}

func TestMatcher_Deterministic(t *testing.T) {
	m := newMatcher(t, DefaultRules(), 6)
	in := input("URGENT: your password expired, send BTC for the bitcoin giveaway to account 1234")

	first := m.Match(context.Background(), in)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, m.Match(context.Background(), in))
	}
	assert.Equal(t, []string{"urgent-payment-keyword", "account-number-pattern", "credential-phishing", "crypto-giveaway"}, first.MatchedRules)
}

func TestMatcher_EmptyText(t *testing.T) {
	m := newMatcher(t, DefaultRules(), 6)
	v := m.Match(context.Background(), EvalInput{})
	assert.False(t, v.Flagged)
	assert.Empty(t, v.MatchedRules)
	assert.NotNil(t, v.MatchedRules)
}

func TestMatcher_RuleKinds(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		text string
		want bool
	}{
		{
			name: "literal whole word",
			rule: Rule{Kind: KindLiteral, WholeWord: true, Patterns: []string{"cloudwalk"}},
			text: "I work at Cloudwalk.",
			want: true,
		},
		{
			name: "literal rejects partial word",
			rule: Rule{Kind: KindLiteral, WholeWord: true, Patterns: []string{"cloudwalk"}},
			text: "cloudwalker is a game",
			want: false,
		},
		{
			name: "literal phrase",
			rule: Rule{Kind: KindLiteral, WholeWord: true, Patterns: []string{"gift  card"}},
			text: "buy a gift card",
			want: true,
		},
		{
			name: "whole word with accents",
			rule: Rule{Kind: KindLiteral, WholeWord: true, Patterns: []string{"pix"}},
			text: "pixação no muro",
			want: false,
		},
		{
			name: "literal case sensitive",
			rule: Rule{Kind: KindLiteral, WholeWord: true, CaseSensitive: true, Patterns: []string{"CEO"}},
			text: "the ceo said",
			want: false,
		},
		{
			name: "substring ignores boundaries",
			rule: Rule{Kind: KindSubstring, Patterns: []string{"walk"}},
			text: "cloudwalker",
			want: true,
		},
		{
			name: "keyword set min matches met",
			rule: Rule{Kind: KindKeywordSet, WholeWord: true, MinMatches: 2, Patterns: []string{"bank", "transfer", "pin"}},
			text: "bank transfer today",
			want: true,
		},
		{
			name: "keyword set min matches not met",
			rule: Rule{Kind: KindKeywordSet, WholeWord: true, MinMatches: 2, Patterns: []string{"bank", "transfer", "pin"}},
			text: "bank holiday",
			want: false,
		},
		{
			name: "regex case insensitive",
			rule: Rule{Kind: KindRegex, Patterns: []string{`WIRE\s+\d+`}},
			text: "wire 500 now",
			want: true,
		},
		{
			name: "expression",
			rule: Rule{Kind: KindExpression, Expression: `text.contains("pix") && kind == "text"`},
			text: "send the PIX",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.rule
			r.ID = "rule"
			r.Severity = 1
			r.Enabled = true
			m := newMatcher(t, []Rule{r}, 1)
			assert.Equal(t, tt.want, m.Match(context.Background(), input(tt.text)).Flagged)
		})
	}
}

func TestMatcher_DisabledRuleSkipped(t *testing.T) {
	rules := exampleRules()
	rules[0].Enabled = false
	m := newMatcher(t, rules, 1)

	assert.Len(t, m.Rules(), 1)
	v := m.Match(context.Background(), input("urgent"))
	assert.False(t, v.Flagged)
}

func TestNewMatcher_MalformedRules(t *testing.T) {
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name  string
		rules []Rule
	}{
		{"bad regex", []Rule{{ID: "r", Kind: KindRegex, Patterns: []string{"(unclosed"}, Enabled: true}}},
		{"bad expression", []Rule{{ID: "r", Kind: KindExpression, Expression: "text +", Enabled: true}}},
		{"non-bool expression", []Rule{{ID: "r", Kind: KindExpression, Expression: "size(text)", Enabled: true}}},
		{"unknown kind", []Rule{{ID: "r", Kind: "fuzzy", Patterns: []string{"x"}, Enabled: true}}},
		{"negative severity", []Rule{{ID: "r", Kind: KindLiteral, Severity: -1, Patterns: []string{"x"}, Enabled: true}}},
		{"no patterns", []Rule{{ID: "r", Kind: KindLiteral, Enabled: true}}},
		{"missing id", []Rule{{Kind: KindLiteral, Patterns: []string{"x"}, Enabled: true}}},
		{"min matches too high", []Rule{{ID: "r", Kind: KindKeywordSet, MinMatches: 3, Patterns: []string{"a", "b"}, Enabled: true}}},
		{"duplicate id", []Rule{
			{ID: "r", Kind: KindLiteral, Patterns: []string{"x"}, Enabled: true},
			{ID: "r", Kind: KindLiteral, Patterns: []string{"y"}, Enabled: true},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMatcher(tt.rules, 1, eval, logger.NopLogger())
			require.Error(t, err)
			assert.ErrorIs(t, err, pkgerrors.ErrConfig)
		})
	}
}

func TestContains(t *testing.T) {
	assert.True(t, contains("pay r$ 100 now", "r$", true))
	assert.True(t, contains("a cloudwalk, b", "cloudwalk", true))
	assert.True(t, contains("xcloudwalk cloudwalk", "cloudwalk", true), "later occurrence is found")
	assert.False(t, contains("cloudwalk_x", "cloudwalk", true))
	assert.False(t, contains("", "x", true))
}
