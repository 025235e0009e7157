package v1

import (
	"strconv"
	"strings"

	"github.com/duynhne/budget-proxy/internal/core/domain"
)

// envelopePrefix is the leading digit of the envelope group user
// categories must belong to.
const envelopePrefix = "3"

// CategoryRules describe Category documents.
var CategoryRules = Rules{
	Kind: domain.KindCategory,
	Fields: map[string]FieldType{
		"name":           FieldString,
		"envelopeId":     FieldEnvelopeID,
		"color":          FieldString,
		"icon":           FieldString,
		"customCategory": FieldBool,
		"categoryType":   FieldInteger,
		"position":       FieldInteger,
	},
	Required: []string{"name", "envelopeId"},
	Defaults: func(doc domain.Document) {
		setDefault(doc, "color", defaultColor)
		setDefault(doc, "icon", "default_icon")
		setDefault(doc, "customCategory", true)
		setDefault(doc, "categoryType", int64(1))
	},
	Check:  checkEnvelope,
	Filter: categoryFilter,
}

func categoryFilter(f domain.ListFilter) (Query, error) {
	q, err := nameFilter(f)
	if err != nil {
		return nil, err
	}
	if f.EnvelopeID != "" {
		want := strings.TrimSpace(f.EnvelopeID)
		q = append(q, func(doc domain.Document) bool {
			got, ok := envelopeString(doc["envelopeId"])
			return ok && got == want
		})
	}
	return q, nil
}

// NewCategoryService creates the Category repository.
func NewCategoryService(sessions domain.SessionProvider, stores domain.StoreFactory, opts ...EntityServiceOption) *EntityService {
	return NewEntityService(CategoryRules, sessions, stores, opts...)
}

func checkEnvelope(doc domain.Document) error {
	s, ok := envelopeString(doc["envelopeId"])
	if !ok || !strings.HasPrefix(s, envelopePrefix) {
		return invalid("envelopeId", RuleEnvelope)
	}
	return nil
}

// envelopeString renders a stored envelope id in decimal.
func envelopeString(v any) (string, bool) {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), s != ""
	}
	n, ok := toInt64(v)
	if !ok {
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}
