package ir

import "fmt"

// Fact is a typed record held by the fact store.
// Facts are values: the store hands out handles for identity.
type Fact struct {
	Type   string   `json:"type"`
	Fields IRObject `json:"fields"`
}

// NewFact creates a fact from typed field pairs.
//
//	NewFact("Person", F("name", IRString("ann")), F("age", IRInt(31)))
func NewFact(typ string, fields ...Field) Fact {
	obj := make(IRObject, len(fields))
	for _, f := range fields {
		obj[f.Name] = f.Value
	}
	return Fact{Type: typ, Fields: obj}
}

// Field is a name/value pair used to construct facts.
type Field struct {
	Name  string
	Value IRValue
}

// F is shorthand for Field.
func F(name string, value IRValue) Field {
	return Field{Name: name, Value: value}
}

// Get returns a field value. Missing fields report ok=false.
func (f Fact) Get(field string) (IRValue, bool) {
	v, ok := f.Fields[field]
	return v, ok
}

// Int returns an integer field, or 0 when absent or of another kind.
func (f Fact) Int(field string) int64 {
	if v, ok := f.Fields[field].(IRInt); ok {
		return int64(v)
	}
	return 0
}

// String returns a string field, or "" when absent or of another kind.
func (f Fact) String(field string) string {
	if v, ok := f.Fields[field].(IRString); ok {
		return string(v)
	}
	return ""
}

// With returns a copy of the fact with one field replaced.
func (f Fact) With(field string, value IRValue) Fact {
	out := f.Clone()
	if out.Fields == nil {
		out.Fields = IRObject{}
	}
	out.Fields[field] = value
	return out
}

// Clone returns a deep copy of the fact.
func (f Fact) Clone() Fact {
	return Fact{Type: f.Type, Fields: f.Fields.Clone()}
}

// Equal reports value equality of two facts.
func (f Fact) Equal(other Fact) bool {
	return f.Type == other.Type && Equal(f.Fields, other.Fields)
}

// Describe renders the fact for logs: Type{a=1 b="x"}.
func (f Fact) Describe() string {
	s := f.Type + "{"
	for i, k := range f.Fields.SortedKeys() {
		if i > 0 {
			s += " "
		}
		b, err := MarshalIRValue(f.Fields[k])
		if err != nil {
			b = []byte(fmt.Sprintf("%v", f.Fields[k]))
		}
		s += k + "=" + string(b)
	}
	return s + "}"
}
