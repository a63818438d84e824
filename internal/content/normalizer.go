// Package content canonicalizes message payloads, fingerprints them and
// tracks which fingerprints have been seen.
package content

import (
	"strings"
	"unicode"
	"unicode/utf8"

	pkgerrors "fraudwatch/pkg/errors"
	"fraudwatch/pkg/models"
)

type Limits struct {
	MaxTextLength    int
	MaxOCRTextLength int
}

type Normalizer struct {
	limits Limits
	hasher *Hasher
}

func NewNormalizer(limits Limits, hasher *Hasher) *Normalizer {
	return &Normalizer{limits: limits, hasher: hasher}
}

func (n *Normalizer) Hasher() *Hasher {
	return n.hasher
}

// Canonicalize strips control characters, trims and collapses whitespace,
// then enforces the length limit for source. Length is counted in runes.
func (n *Normalizer) Canonicalize(raw string, source models.ContentSource) (string, error) {
	limit := n.limits.MaxTextLength
	if source == models.SourceOCR {
		limit = n.limits.MaxOCRTextLength
	}

	canonical := collapse(stripControl(raw))
	if canonical == "" {
		return "", pkgerrors.ErrEmptyContent
	}

	if length := utf8.RuneCountInString(canonical); limit > 0 && length > limit {
		return "", pkgerrors.ErrOversized.
			WithMessage("content exceeds maximum length").
			WithDetail("length", length).
			WithDetail("limit", limit).
			WithDetail("source", string(source))
	}
	return canonical, nil
}

// Normalize canonicalizes raw text and fingerprints the result.
func (n *Normalizer) Normalize(chatID, raw string, source models.ContentSource) (models.NormalizedContent, error) {
	canonical, err := n.Canonicalize(raw, source)
	if err != nil {
		return models.NormalizedContent{}, err
	}
	return models.NormalizedContent{
		Canonical:   canonical,
		MatchText:   strings.ToLower(canonical),
		Fingerprint: n.hasher.Text(chatID, canonical),
		Source:      source,
	}, nil
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
