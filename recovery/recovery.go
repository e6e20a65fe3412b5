// Package recovery decides how the PDF read path reacts to malformed input.
// Components report errors with their location; the strategy answers with an
// action: fail the operation, skip the offending construct, patch it up, or
// record it and continue.
package recovery

// Location pinpoints where in the file an error was observed.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

// Action is the strategy's verdict for a reported error.
type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

// Strategy is consulted by scanner, parser and xref when input is damaged.
type Strategy interface {
	OnError(err error, location Location) Action
}
