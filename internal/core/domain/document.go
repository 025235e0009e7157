package domain

import "strings"

// Kind is the value of a document's discriminator field.
type Kind string

const (
	KindAccount  Kind = "Account"
	KindRecord   Kind = "Record"
	KindCategory Kind = "Category"
	KindLabel    Kind = "HashTag"
)

// Reserved document fields. They are stamped by this service or the store
// and are never taken from caller input.
const (
	FieldID        = "_id"
	FieldRev       = "_rev"
	FieldModelType = "reservedModelType"
	FieldOwnerID   = "reservedOwnerId"
	FieldAuthorID  = "reservedAuthorId"
	FieldCreatedAt = "reservedCreatedAt"
	FieldUpdatedAt = "reservedUpdatedAt"
)

var reservedFields = map[string]struct{}{
	FieldID:        {},
	FieldRev:       {},
	FieldModelType: {},
	FieldOwnerID:   {},
	FieldAuthorID:  {},
	FieldCreatedAt: {},
	FieldUpdatedAt: {},
}

// IsReservedField reports whether name is stamped by the service or store.
func IsReservedField(name string) bool {
	_, ok := reservedFields[name]
	return ok || strings.HasPrefix(name, "_")
}

// Document is a CouchDB document as decoded from JSON.
type Document map[string]any

// ID returns the document identifier.
func (d Document) ID() string { return d.String(FieldID) }

// Rev returns the current revision token.
func (d Document) Rev() string { return d.String(FieldRev) }

// Kind returns the discriminator.
func (d Document) Kind() Kind { return Kind(d.String(FieldModelType)) }

// String returns the field as a string, or "" when absent or not a string.
func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// DeleteResult describes a destroyed document.
type DeleteResult struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
}
