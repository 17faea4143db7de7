// Package record defines the value types that flow through the pipeline:
// raw source records, normalized persons, and rejections.
package record

// Field names every source record must provide (after header
// canonicalization). These match the legacy CSV layout.
const (
	FieldNombre = "nombre"
	FieldEdad   = "edad"
	FieldCiudad = "ciudad"
)

// Required lists the fields a record needs to become a Person.
var Required = []string{FieldNombre, FieldEdad, FieldCiudad}

// Raw is one record as read from a source: the source's column order plus a
// name->value map. Cells the source read as empty are absent from Values.
// A Raw is transient; it lives only while one record is processed.
type Raw struct {
	// Line is the 1-based physical line in the source, when known.
	Line int

	// Columns preserves source column order for rejection files.
	Columns []string

	Values map[string]string
}

// Get returns the value for a field and whether the field is present.
func (r Raw) Get(name string) (string, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// Person is a validated, normalized record ready for loading.
type Person struct {
	Name string
	Age  int
	City string
}

// Reason classifies why a record was rejected. The set is closed; sinks and
// tests match on the constant, not on message text.
type Reason string

const (
	ReasonMissingField Reason = "missing_field"
	ReasonEmptyValue   Reason = "empty_value"
	ReasonInvalidType  Reason = "invalid_type"
	ReasonOutOfRange   Reason = "out_of_range"
)

// Known reports whether r is one of the defined rejection reasons.
func (r Reason) Known() bool {
	switch r {
	case ReasonMissingField, ReasonEmptyValue, ReasonInvalidType, ReasonOutOfRange:
		return true
	}
	return false
}

func (r Reason) String() string { return string(r) }

// Rejected pairs the original raw record with its rejection reason.
// Rejected records never reach the relational store; they are routed to the
// rejection sink only.
type Rejected struct {
	Raw    Raw
	Reason Reason
}
