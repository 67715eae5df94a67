package fit

import (
	"errors"
	"fmt"
)

// Global message numbers relevant to activity files.
const (
	globalSession = 18
	globalLap     = 19
	globalRecord  = 20
)

// Field numbers within a record (global 20) message.
const (
	fieldRecordHeartRate   = 3
	fieldRecordCadence     = 4
	fieldRecordPower       = 7
	fieldRecordTemperature = 13
)

// Field numbers within a session (global 18) message.
const (
	fieldSessionAvgHeartRate = 16
	fieldSessionAvgCadence   = 18
	fieldSessionAvgPower     = 20
)

// MessageKind classifies a decoded data message by its global number.
type MessageKind int

const (
	// KindOther is any message not otherwise classified. It is carried
	// through untouched.
	KindOther MessageKind = iota
	// KindSample is a per-second record message (global 20).
	KindSample
	// KindSessionSummary is a session summary message (global 18).
	KindSessionSummary
	// KindLap is a lap message (global 19).
	KindLap
)

func (k MessageKind) String() string {
	switch k {
	case KindSample:
		return "sample"
	case KindSessionSummary:
		return "session"
	case KindLap:
		return "lap"
	default:
		return "other"
	}
}

// FieldDef describes one field in a definition message.
type FieldDef struct {
	Num      byte
	Size     byte
	BaseType byte
}

// DevFieldDef describes one developer field in a definition message.
type DevFieldDef struct {
	Num      byte
	Size     byte
	DevIndex byte
}

// Definition is a decoded definition message. It fixes the layout of
// every data message that follows on the same local type until it is
// redefined.
type Definition struct {
	LocalType byte
	BigEndian bool
	GlobalNum uint16
	Fields    []FieldDef
	DevFields []DevFieldDef
}

// DataSize returns the byte length of a data message using this
// definition.
func (d *Definition) DataSize() int {
	n := 0
	for _, f := range d.Fields {
		n += int(f.Size)
	}
	for _, f := range d.DevFields {
		n += int(f.Size)
	}
	return n
}

// fieldOffset returns the byte offset and size of field num inside a
// data message, or ok=false if the definition does not carry it.
func (d *Definition) fieldOffset(num byte) (offset, size int, ok bool) {
	off := 0
	for _, f := range d.Fields {
		if f.Num == num {
			return off, int(f.Size), true
		}
		off += int(f.Size)
	}
	return 0, 0, false
}

// hasField reports whether the definition carries field num.
func (d *Definition) hasField(num byte) bool {
	_, _, ok := d.fieldOffset(num)
	return ok
}

// clone returns a deep copy of the definition.
func (d *Definition) clone() *Definition {
	c := *d
	c.Fields = append([]FieldDef(nil), d.Fields...)
	c.DevFields = append([]DevFieldDef(nil), d.DevFields...)
	return &c
}

// kind maps the definition's global number to a message kind.
func (d *Definition) kind() MessageKind {
	switch d.GlobalNum {
	case globalRecord:
		return KindSample
	case globalSession:
		return KindSessionSummary
	case globalLap:
		return KindLap
	default:
		return KindOther
	}
}

// Message is one record in the file's data section. Either a
// definition message (Def set, Data nil) or a data message (Def points
// at the definition in effect, Data holds the field bytes).
type Message struct {
	Kind         MessageKind
	Header       byte
	IsDefinition bool
	Def          *Definition
	Data         []byte
}

// Field reads an unsigned numeric field from a data message. It
// returns false when the field is absent, the message is a
// definition, or the stored value is the invalid sentinel.
func (m *Message) Field(num byte) (uint32, bool) {
	if m.IsDefinition || m.Def == nil {
		return 0, false
	}
	off, size, ok := m.Def.fieldOffset(num)
	if !ok {
		return 0, false
	}
	v, ok := readUint(m.Data, off, size, m.Def.BigEndian)
	if !ok || v == invalidValue(size) {
		return 0, false
	}
	return v, true
}

// File is a fully decoded FIT file.
type File struct {
	ProtocolVersion byte
	ProfileVersion  uint16
	Messages        []Message
}

// TransformError describes a failed decode or transform. Structural
// errors mean the input itself cannot be processed and a retry with
// the same bytes will fail again.
type TransformError struct {
	Path       string
	Structural bool
	Err        error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Path, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// IsStructural reports whether err is a TransformError caused by the
// content of the file rather than the environment.
func IsStructural(err error) bool {
	var te *TransformError
	if errors.As(err, &te) {
		return te.Structural
	}
	return false
}
