package v1

import (
	"github.com/duynhne/budget-proxy/internal/core/domain"
)

// AccountRules describe Account documents.
var AccountRules = Rules{
	Kind: domain.KindAccount,
	Fields: map[string]FieldType{
		"name":             FieldString,
		"currencyId":       FieldString,
		"initAmount":       FieldInteger,
		"initRefAmount":    FieldInteger,
		"color":            FieldString,
		"accountType":      FieldInteger,
		"excludeFromStats": FieldBool,
		"archived":         FieldBool,
		"position":         FieldInteger,
		"note":             FieldNullableString,
	},
	Required: []string{"name", "currencyId"},
	Defaults: func(doc domain.Document) {
		setDefault(doc, "initAmount", int64(0))
		setDefault(doc, "initRefAmount", doc["initAmount"])
		setDefault(doc, "color", defaultColor)
		setDefault(doc, "accountType", int64(0))
		setDefault(doc, "excludeFromStats", false)
		setDefault(doc, "archived", false)
	},
	Filter: nameFilter,
}

// NewAccountService creates the Account repository.
func NewAccountService(sessions domain.SessionProvider, stores domain.StoreFactory, opts ...EntityServiceOption) *EntityService {
	return NewEntityService(AccountRules, sessions, stores, opts...)
}
