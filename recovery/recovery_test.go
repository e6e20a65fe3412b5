package recovery

import (
	"errors"
	"testing"
)

func TestStrictAlwaysFails(t *testing.T) {
	s := NewStrict()
	if got := s.OnError(errors.New("broken dict"), Location{Component: "parser"}); got != ActionFail {
		t.Fatalf("expected ActionFail, got %v", got)
	}
}

func TestLenientAccumulates(t *testing.T) {
	s := NewLenient()
	if got := s.OnError(errors.New("bad entry"), Location{Component: "xref", ByteOffset: 42}); got != ActionFix {
		t.Fatalf("expected ActionFix, got %v", got)
	}
	s.OnError(errors.New("bad string"), Location{Component: "scanner"})
	if len(s.Errors) != 2 {
		t.Fatalf("expected 2 accumulated errors, got %d", len(s.Errors))
	}
	if s.Errors[0].Error() != "[xref] offset 42: bad entry" {
		t.Fatalf("unexpected error text: %v", s.Errors[0])
	}
}
