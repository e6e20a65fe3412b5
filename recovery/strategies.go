package recovery

import "fmt"

// Strict fails on the first malformed construct.
type Strict struct{}

func NewStrict() *Strict { return &Strict{} }

func (*Strict) OnError(err error, location Location) Action { return ActionFail }

// Lenient records every error and keeps going. The accumulated errors can be
// inspected after the run to report what was patched over.
type Lenient struct {
	Errors []error
}

func NewLenient() *Lenient { return &Lenient{} }

func (s *Lenient) OnError(err error, location Location) Action {
	s.Errors = append(s.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	return ActionFix
}
