package scanner

import (
	"errors"
	"fmt"

	"github.com/docforge/pdfnamer/object"
)

// TokenSource is anything that yields tokens; satisfied by *Scanner.
type TokenSource interface {
	Next() (Token, error)
}

// TokenReader adds single-token pushback on top of a TokenSource so the
// object parser can peek.
type TokenReader struct {
	src TokenSource
	buf []Token
}

func NewTokenReader(src TokenSource) *TokenReader { return &TokenReader{src: src} }

func (r *TokenReader) Next() (Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.src.Next()
}

func (r *TokenReader) Unread(tok Token) { r.buf = append(r.buf, tok) }

// SetStreamLengthHint forwards a declared stream length to the underlying
// scanner when it supports one.
func (r *TokenReader) SetStreamLengthHint(n int64) {
	if setter, ok := r.src.(interface{ SetNextStreamLength(int64) }); ok {
		setter.SetNextStreamLength(n)
	}
}

// ParseObject assembles the next complete PDF object from the token stream.
// Keywords terminate parsing with an error so callers can handle obj/endobj
// and content-stream operators themselves.
func ParseObject(tr *TokenReader) (object.Object, error) {
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case TokenName:
		return object.Name(tok.Str), nil
	case TokenNumber:
		if tok.IsInt {
			return object.Integer(tok.Int), nil
		}
		return object.Real(tok.Float), nil
	case TokenBoolean:
		return object.Bool(tok.Bool), nil
	case TokenNull:
		return object.Null{}, nil
	case TokenString:
		return object.String{Data: tok.Bytes}, nil
	case TokenRef:
		return object.Ref{Num: int(tok.Int), Gen: tok.Gen}, nil
	case TokenArray:
		return parseArray(tr)
	case TokenDict:
		return parseDict(tr)
	case TokenKeyword:
		return nil, fmt.Errorf("unexpected keyword %q", tok.Str)
	default:
		return nil, fmt.Errorf("unexpected token type %v", tok.Type)
	}
}

func parseArray(tr *TokenReader) (object.Object, error) {
	arr := &object.Array{}
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		tr.Unread(tok)
		item, err := ParseObject(tr)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func parseDict(tr *TokenReader) (object.Object, error) {
	d := object.NewDict()
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != TokenName {
			// A dict missing its closer usually runs into endobj; report a
			// parse error either way and let the caller's recovery decide.
			return nil, errors.New("expected name key in dictionary")
		}
		val, err := ParseObject(tr)
		if err != nil {
			return nil, err
		}
		d.Set(tok.Str, val)
	}
}
