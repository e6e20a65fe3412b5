package scanner

import (
	"bytes"
	"errors"
)

// scanStream consumes a stream payload after the stream keyword. When the
// caller has supplied the declared /Length it is trusted first; otherwise the
// payload is delimited by searching for a well-formed endstream marker.
func (s *Scanner) scanStream(start int64) (Token, error) {
	if !s.available(s.pos) {
		return Token{}, s.recover(errors.New("stream missing data"), "stream")
	}
	// The stream keyword must be followed by an EOL before the data.
	switch s.data[s.pos] {
	case '\r':
		s.pos++
		if s.available(s.pos) && s.data[s.pos] == '\n' {
			s.pos++
		}
	case '\n':
		s.pos++
	default:
		if err := s.recover(errors.New("stream missing EOL before data"), "stream"); err != nil {
			return Token{}, err
		}
	}
	dataStart := s.pos

	if s.nextStreamLen >= 0 {
		l := s.nextStreamLen
		s.nextStreamLen = -1
		if s.cfg.MaxStreamLength > 0 && l > s.cfg.MaxStreamLength {
			return Token{}, s.recover(errors.New("stream too long"), "stream")
		}
		if l > 0 && !s.available(dataStart+l-1) {
			if err := s.recover(errors.New("stream ended before declared length"), "stream"); err != nil {
				return Token{}, err
			}
			l = int64(len(s.data)) - dataStart
		}
		end := dataStart + l
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = end
		s.skipToEndstream()
		return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
	}

	end, found := s.findEndstream(dataStart)
	if !found {
		if err := s.recover(errors.New("endstream not found"), "stream"); err != nil {
			return Token{}, err
		}
		payload := append([]byte(nil), s.data[dataStart:]...)
		s.pos = int64(len(s.data))
		return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
	}
	payload := append([]byte(nil), s.data[dataStart:end]...)
	s.skipToEndstream()
	return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
}

// skipToEndstream advances past optional EOL and the endstream keyword.
func (s *Scanner) skipToEndstream() {
	for s.available(s.pos) && isWhitespace(s.data[s.pos]) {
		s.pos++
	}
	needle := []byte("endstream")
	if s.available(s.pos+int64(len(needle))-1) &&
		bytes.Equal(s.data[s.pos:s.pos+int64(len(needle))], needle) {
		s.pos += int64(len(needle))
		return
	}
	// Declared length was wrong; search forward for the marker.
	s.ensureAll()
	if idx := bytes.Index(s.data[s.pos:], needle); idx >= 0 {
		s.pos += int64(idx + len(needle))
	}
}

// findEndstream searches for an endstream keyword on a token boundary and
// returns the payload end with trailing EOL trimmed.
func (s *Scanner) findEndstream(dataStart int64) (int64, bool) {
	needle := []byte("endstream")
	s.ensureAll()
	search := s.data[dataStart:]
	offset := int64(0)
	for {
		idx := bytes.Index(search[offset:], needle)
		if idx < 0 {
			return 0, false
		}
		abs := dataStart + offset + int64(idx)
		if s.cfg.MaxStreamLength > 0 && abs-dataStart > s.cfg.MaxStreamLength {
			return 0, false
		}
		afterOK := !s.available(abs+int64(len(needle))) || isDelimiter(s.data[abs+int64(len(needle))])
		beforeOK := abs == dataStart || isWhitespace(s.data[abs-1])
		if afterOK && beforeOK {
			end := abs
			if end > dataStart && s.data[end-1] == '\n' {
				end--
			}
			if end > dataStart && s.data[end-1] == '\r' {
				end--
			}
			s.pos = abs
			return end, true
		}
		offset += int64(idx) + 1
	}
}

// ensureAll buffers the remainder of the input.
func (s *Scanner) ensureAll() {
	for !s.eof {
		if err := s.loadMore(); err != nil {
			return
		}
	}
}

// scanInlineImage consumes the binary payload between ID and EI inside a
// content stream. The payload is kept so callers can account for it, but text
// extraction ignores it.
func (s *Scanner) scanInlineImage(start int64) (Token, error) {
	if !s.available(s.pos) || !isWhitespace(s.data[s.pos]) {
		if err := s.recover(errors.New("inline image missing whitespace after ID"), "inline-image"); err != nil {
			return Token{}, err
		}
	} else {
		s.pos++
	}
	dataStart := s.pos
	for {
		if !s.available(s.pos + 1) {
			return Token{}, s.recover(errors.New("unterminated inline image"), "inline-image")
		}
		if s.data[s.pos] == 'E' && s.data[s.pos+1] == 'I' {
			breakBefore := s.pos > dataStart && isEOL(s.data[s.pos-1])
			afterOK := !s.available(s.pos+2) || isDelimiter(s.data[s.pos+2])
			if breakBefore && afterOK {
				payload := append([]byte(nil), s.data[dataStart:s.pos]...)
				s.pos += 2
				return s.emit(Token{Type: TokenInlineImage, Bytes: payload, Pos: start})
			}
		}
		s.pos++
		if s.cfg.MaxInlineImage > 0 && s.pos-dataStart > s.cfg.MaxInlineImage {
			return Token{}, s.recover(errors.New("inline image too long"), "inline-image")
		}
	}
}
