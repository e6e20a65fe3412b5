// Package object holds the raw PDF object model produced by the parser:
// names, numbers, strings, arrays, dictionaries, streams and indirect
// references, plus the Document container that maps references to loaded
// objects.
package object

import "fmt"

// Ref identifies an indirect object. It doubles as the reference object that
// appears inline in arrays and dictionaries.
type Ref struct {
	Num int
	Gen int
}

func (r Ref) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }
func (Ref) pdfObject()       {}

// Object is implemented by every raw PDF value.
type Object interface {
	pdfObject()
}

// Name is a PDF name object without the leading slash.
type Name string

func (Name) pdfObject() {}

// Number holds either an integer or a real value.
type Number struct {
	I     int64
	F     float64
	IsInt bool
}

func (Number) pdfObject() {}

func (n Number) Int() int64 { return n.I }

func (n Number) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}

func Integer(i int64) Number { return Number{I: i, IsInt: true} }
func Real(f float64) Number  { return Number{F: f} }

// Bool is a PDF boolean.
type Bool bool

func (Bool) pdfObject() {}

// Null is the PDF null object.
type Null struct{}

func (Null) pdfObject() {}

// String is a PDF string; Hex records the source notation.
type String struct {
	Data []byte
	Hex  bool
}

func (String) pdfObject() {}

// Array is a PDF array.
type Array struct {
	Items []Object
}

func (*Array) pdfObject() {}

func (a *Array) Len() int { return len(a.Items) }

func (a *Array) At(i int) Object {
	if i < 0 || i >= len(a.Items) {
		return nil
	}
	return a.Items[i]
}

func (a *Array) Append(items ...Object) { a.Items = append(a.Items, items...) }

// Dict is a PDF dictionary keyed by name.
type Dict struct {
	KV map[string]Object
}

func (*Dict) pdfObject() {}

func NewDict() *Dict { return &Dict{KV: make(map[string]Object)} }

func (d *Dict) Get(key string) (Object, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.KV[key]
	return v, ok
}

func (d *Dict) Set(key string, value Object) {
	if d.KV == nil {
		d.KV = make(map[string]Object)
	}
	d.KV[key] = value
}

func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.KV)
}

// Name returns the string value of a name entry.
func (d *Dict) Name(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	n, ok := v.(Name)
	return string(n), ok
}

// Int returns the integer value of a numeric entry.
func (d *Dict) Int(key string) (int64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(Number)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

// Bytes returns the raw bytes of a string entry.
func (d *Dict) Bytes(key string) ([]byte, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	s, ok := v.(String)
	if !ok {
		return nil, false
	}
	return s.Data, true
}

// Stream pairs a dictionary with its raw (still encoded) payload.
type Stream struct {
	Dict *Dict
	Data []byte
}

func (*Stream) pdfObject() {}

func NewStream(dict *Dict, data []byte) *Stream { return &Stream{Dict: dict, Data: data} }

func (s *Stream) Length() int64 { return int64(len(s.Data)) }
