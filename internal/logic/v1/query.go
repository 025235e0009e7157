package v1

import (
	"strings"

	"github.com/duynhne/budget-proxy/internal/core/domain"
)

const defaultColor = "#CCCCCC"

func setDefault(doc domain.Document, field string, value any) {
	if _, ok := doc[field]; !ok {
		doc[field] = value
	}
}

// nameFilter matches nameStartsWith case-insensitively.
func nameFilter(f domain.ListFilter) (Query, error) {
	if f.NameStartsWith == "" {
		return nil, nil
	}
	prefix := strings.ToLower(f.NameStartsWith)
	return Query{func(doc domain.Document) bool {
		return strings.HasPrefix(strings.ToLower(doc.String("name")), prefix)
	}}, nil
}

func fieldEquals(field, want string) Predicate {
	return func(doc domain.Document) bool {
		return doc.String(field) == want
	}
}
