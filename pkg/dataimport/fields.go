package dataimport

type FieldType int

const (
	TypeText FieldType = iota
	// TypeIDNumber is a trimmed, uppercased business key.
	TypeIDNumber
	TypeInt
	TypeEmail
	// TypeEmailList is a comma-joined list of emails.
	TypeEmailList
	TypeTimestamp
	// TypeForeignKey holds an id resolved from another entity; unresolved ids are 0.
	TypeForeignKey
)

func (t FieldType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeIDNumber:
		return "idnumber"
	case TypeInt:
		return "int"
	case TypeEmail:
		return "email"
	case TypeEmailList:
		return "emaillist"
	case TypeTimestamp:
		return "timestamp"
	case TypeForeignKey:
		return "foreignkey"
	default:
		return "unknown"
	}
}

type FieldDefinition struct {
	Name     string
	Type     FieldType
	Required bool
}

// Definitions is the ordered canonical schema of one importer.
type Definitions []FieldDefinition

func (d Definitions) Lookup(name string) (FieldDefinition, bool) {
	for _, def := range d {
		if def.Name == name {
			return def, true
		}
	}
	return FieldDefinition{}, false
}

func (d Definitions) Names() []string {
	names := make([]string, len(d))
	for i, def := range d {
		names[i] = def.Name
	}
	return names
}
