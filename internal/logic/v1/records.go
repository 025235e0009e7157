package v1

import (
	"time"

	"github.com/duynhne/budget-proxy/internal/core/domain"
)

// Record types.
const (
	recordTypeIncome  int64 = 0
	recordTypeExpense int64 = 1
)

// RecordRules describe transaction Record documents.
var RecordRules = Rules{
	Kind: domain.KindRecord,
	Fields: map[string]FieldType{
		"accountId":   FieldString,
		"categoryId":  FieldString,
		"currencyId":  FieldString,
		"amount":      FieldNonZeroInteger,
		"refAmount":   FieldInteger,
		"recordDate":  FieldTimestamp,
		"type":        FieldInteger,
		"paymentType": FieldInteger,
		"recordState": FieldInteger,
		"transfer":    FieldBool,
		"payee":       FieldNullableString,
		"note":        FieldNullableString,
		"labels":      FieldStringList,
	},
	Required: []string{"accountId", "categoryId", "currencyId", "amount", "recordDate"},
	Defaults: func(doc domain.Document) {
		amount, _ := toInt64(doc["amount"])
		if amount > 0 {
			setDefault(doc, "type", recordTypeIncome)
		} else {
			setDefault(doc, "type", recordTypeExpense)
		}
		setDefault(doc, "refAmount", amount)
		setDefault(doc, "paymentType", int64(0))
		setDefault(doc, "recordState", int64(1))
		setDefault(doc, "transfer", false)
		setDefault(doc, "payee", nil)
		setDefault(doc, "note", nil)
		setDefault(doc, "labels", []string{})
		setDefault(doc, "reservedSource", "api_v1_script")
	},
	Filter: recordFilter,
}

// NewRecordService creates the transaction Record repository.
func NewRecordService(sessions domain.SessionProvider, stores domain.StoreFactory, opts ...EntityServiceOption) *EntityService {
	return NewEntityService(RecordRules, sessions, stores, opts...)
}

func recordFilter(f domain.ListFilter) (Query, error) {
	var q Query
	if f.AccountID != "" {
		q = append(q, fieldEquals("accountId", f.AccountID))
	}
	if f.CategoryID != "" {
		q = append(q, fieldEquals("categoryId", f.CategoryID))
	}
	if f.DateFrom != "" {
		from, err := parseDateBound("dateFrom", f.DateFrom, false)
		if err != nil {
			return nil, err
		}
		q = append(q, recordDate(func(t time.Time) bool { return !t.Before(from) }))
	}
	if f.DateTo != "" {
		to, err := parseDateBound("dateTo", f.DateTo, true)
		if err != nil {
			return nil, err
		}
		q = append(q, recordDate(func(t time.Time) bool { return !t.After(to) }))
	}
	return q, nil
}

func recordDate(keep func(time.Time) bool) Predicate {
	return func(doc domain.Document) bool {
		t, err := time.Parse(time.RFC3339Nano, doc.String("recordDate"))
		return err == nil && keep(t)
	}
}
