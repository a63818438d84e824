package fraud

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"fraudwatch/pkg/cel"
	pkgerrors "fraudwatch/pkg/errors"
)

type predicate func(ctx context.Context, in EvalInput) (bool, error)

type compiledRule struct {
	Rule
	match predicate
}

// compileRules validates every enabled rule and builds its predicate. Any
// problem is a configuration error.
func compileRules(rules []Rule, eval *cel.Evaluator) ([]compiledRule, error) {
	seen := make(map[string]struct{}, len(rules))
	compiled := make([]compiledRule, 0, len(rules))

	for i, r := range rules {
		if r.ID == "" {
			return nil, configError(fmt.Sprintf("rule #%d", i), "id is required")
		}
		if _, dup := seen[r.ID]; dup {
			return nil, configError(r.ID, "duplicate rule id")
		}
		seen[r.ID] = struct{}{}

		if !r.Enabled {
			continue
		}
		if r.Severity < 0 {
			return nil, configError(r.ID, "severity must be non-negative")
		}

		match, err := buildPredicate(r, eval)
		if err != nil {
			return nil, pkgerrors.ErrConfig.
				WithMessage(fmt.Sprintf("rule %s: %v", r.ID, err)).
				WithDetail("rule_id", r.ID).
				WithCause(err)
		}
		compiled = append(compiled, compiledRule{Rule: r, match: match})
	}
	return compiled, nil
}

func configError(ruleID, msg string) error {
	return pkgerrors.ErrConfig.
		WithMessage(fmt.Sprintf("rule %s: %s", ruleID, msg)).
		WithDetail("rule_id", ruleID)
}

func buildPredicate(r Rule, eval *cel.Evaluator) (predicate, error) {
	switch r.Kind {
	case KindLiteral, KindSubstring, KindKeywordSet:
		patterns, err := normalizePatterns(r)
		if err != nil {
			return nil, err
		}
		wholeWord := r.WholeWord && r.Kind != KindSubstring
		need := 1
		if r.Kind == KindKeywordSet && r.MinMatches > 1 {
			need = r.MinMatches
		}
		if need > len(patterns) {
			return nil, fmt.Errorf("min_matches %d exceeds %d keywords", need, len(patterns))
		}
		return func(_ context.Context, in EvalInput) (bool, error) {
			text := in.subject(r.CaseSensitive)
			hits := 0
			for _, p := range patterns {
				if contains(text, p, wholeWord) {
					hits++
					if hits >= need {
						return true, nil
					}
				}
			}
			return false, nil
		}, nil

	case KindRegex:
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("at least one pattern is required")
		}
		res := make([]*regexp.Regexp, 0, len(r.Patterns))
		for _, p := range r.Patterns {
			if !r.CaseSensitive {
				p = "(?i)" + p
			}
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("invalid regex %q: %w", p, err)
			}
			res = append(res, re)
		}
		return func(_ context.Context, in EvalInput) (bool, error) {
			text := in.subject(r.CaseSensitive)
			for _, re := range res {
				if re.MatchString(text) {
					return true, nil
				}
			}
			return false, nil
		}, nil

	case KindExpression:
		if strings.TrimSpace(r.Expression) == "" {
			return nil, fmt.Errorf("expression is required")
		}
		if eval == nil {
			return nil, fmt.Errorf("expression rules need a CEL evaluator")
		}
		program, err := eval.Compile(r.Expression)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, in EvalInput) (bool, error) {
			return eval.Evaluate(ctx, program, in.celInput())
		}, nil

	default:
		return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

func normalizePatterns(r Rule) ([]string, error) {
	if len(r.Patterns) == 0 {
		return nil, fmt.Errorf("at least one pattern is required")
	}
	out := make([]string, 0, len(r.Patterns))
	seen := make(map[string]struct{}, len(r.Patterns))
	for _, p := range r.Patterns {
		p = strings.Join(strings.Fields(p), " ")
		if p == "" {
			return nil, fmt.Errorf("empty pattern")
		}
		if !r.CaseSensitive {
			p = strings.ToLower(p)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// contains reports whether text holds pattern. With wholeWord the match must
// not be glued to a letter or digit on an edge where the pattern itself
// starts or ends with one.
func contains(text, pattern string, wholeWord bool) bool {
	if !wholeWord {
		return strings.Contains(text, pattern)
	}

	first, _ := utf8.DecodeRuneInString(pattern)
	last, _ := utf8.DecodeLastRuneInString(pattern)
	checkLeft, checkRight := isWordRune(first), isWordRune(last)

	for offset := 0; offset <= len(text); {
		i := strings.Index(text[offset:], pattern)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(pattern)

		leftOK := true
		if checkLeft && start > 0 {
			r, _ := utf8.DecodeLastRuneInString(text[:start])
			leftOK = !isWordRune(r)
		}
		rightOK := true
		if checkRight && end < len(text) {
			r, _ := utf8.DecodeRuneInString(text[end:])
			rightOK = !isWordRune(r)
		}
		if leftOK && rightOK {
			return true
		}

		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
