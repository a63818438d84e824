// Package access decides whether an origin chat may use the pipeline.
package access

import (
	"fraudwatch/pkg/models"
)

type Reason string

const (
	ReasonAllowed      Reason = "allowed"
	ReasonInvalidID    Reason = "invalid chat id"
	ReasonNotAllowed   Reason = "chat not in allow-list"
	ReasonEmptyAllowed Reason = "allow-list is empty"
)

type Decision struct {
	Allowed bool
	Reason  Reason
}

// Filter is immutable after construction and safe for concurrent use.
type Filter struct {
	allowed       map[int64]struct{}
	denyWhenEmpty bool
}

func NewFilter(allowedChatIDs []string, denyWhenEmpty bool) (*Filter, error) {
	allowed := make(map[int64]struct{}, len(allowedChatIDs))
	for _, id := range allowedChatIDs {
		v, err := models.ParseChatID(id)
		if err != nil {
			return nil, err
		}
		allowed[v] = struct{}{}
	}
	return &Filter{allowed: allowed, denyWhenEmpty: denyWhenEmpty}, nil
}

// Check validates chatID and matches it against the allow-list. With an
// empty allow-list every well-formed id passes unless denyWhenEmpty is set.
func (f *Filter) Check(chatID string) Decision {
	v, err := models.ParseChatID(chatID)
	if err != nil {
		return Decision{Reason: ReasonInvalidID}
	}

	if len(f.allowed) == 0 {
		if f.denyWhenEmpty {
			return Decision{Reason: ReasonEmptyAllowed}
		}
		return Decision{Allowed: true, Reason: ReasonAllowed}
	}

	if _, ok := f.allowed[v]; !ok {
		return Decision{Reason: ReasonNotAllowed}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

func (f *Filter) Size() int {
	return len(f.allowed)
}
