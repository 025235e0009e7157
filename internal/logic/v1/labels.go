package v1

import (
	"github.com/duynhne/budget-proxy/internal/core/domain"
)

// LabelRules describe label (HashTag) documents.
var LabelRules = Rules{
	Kind: domain.KindLabel,
	Fields: map[string]FieldType{
		"name":     FieldString,
		"color":    FieldString,
		"position": FieldInteger,
		"archived": FieldBool,
	},
	Required: []string{"name"},
	Filter:   nameFilter,
}

// NewLabelService creates the label repository.
func NewLabelService(sessions domain.SessionProvider, stores domain.StoreFactory, opts ...EntityServiceOption) *EntityService {
	return NewEntityService(LabelRules, sessions, stores, opts...)
}
