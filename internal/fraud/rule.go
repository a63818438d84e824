// Package fraud scores normalized text against an ordered rule set.
package fraud

import (
	"fraudwatch/internal/config"
)

type Kind string

const (
	KindLiteral    Kind = "literal"
	KindSubstring  Kind = "substring"
	KindKeywordSet Kind = "keyword_set"
	KindRegex      Kind = "regex"
	KindExpression Kind = "expression"
)

type Rule struct {
	ID            string
	Description   string
	Kind          Kind
	Severity      int
	Critical      bool
	CaseSensitive bool
	WholeWord     bool
	Patterns      []string
	MinMatches    int
	Expression    string
	Enabled       bool
}

// RuleFromConfig converts the declarative form. Literal and keyword-set
// rules match whole words unless whole_word is set to false.
func RuleFromConfig(rc config.RuleConfig) Rule {
	kind := Kind(rc.Kind)
	wholeWord := kind == KindLiteral || kind == KindKeywordSet
	if rc.WholeWord != nil {
		wholeWord = *rc.WholeWord
	}
	return Rule{
		ID:            rc.ID,
		Description:   rc.Description,
		Kind:          kind,
		Severity:      rc.Severity,
		Critical:      rc.Critical,
		CaseSensitive: rc.CaseSensitive,
		WholeWord:     wholeWord,
		Patterns:      append([]string(nil), rc.Patterns...),
		MinMatches:    rc.MinMatches,
		Expression:    rc.Expression,
		Enabled:       !rc.Disabled,
	}
}
