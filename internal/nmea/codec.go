package nmea

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedFrame is returned when a sentence fails sentinel, checksum or
// schema validation. Callers must drop such input, never surface it as data.
var ErrMalformedFrame = errors.New("malformed frame")

// Checksum computes the XOR of every byte in body and renders it as two
// upper-case hex digits.
func Checksum(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("%02X", sum)
}

// Encode renders a frame as a full sentence with checksum and CRLF
// terminator. Encode and Decode are inverses for any frame built by this
// package.
func Encode(f Frame) []byte {
	body := f.Body()
	return []byte("$" + body + "*" + Checksum(body) + "\r\n")
}

// Decode parses a single sentence. Leading/trailing whitespace and the CRLF
// terminator are tolerated. A missing '$' sentinel, a checksum mismatch, or
// too few fields for a known talker yield a *MalformedFrameError.
func Decode(line []byte) (Frame, error) {
	s := strings.TrimSpace(string(line))
	if s == "" {
		return Frame{}, &MalformedFrameError{Reason: "empty sentence", Line: s}
	}
	if s[0] != '$' {
		return Frame{}, &MalformedFrameError{Reason: "missing '$' sentinel", Line: s}
	}
	s = s[1:]

	body := s
	if star := strings.LastIndexByte(s, '*'); star >= 0 {
		body = s[:star]
		sum := s[star+1:]
		if len(sum) != 2 {
			return Frame{}, &MalformedFrameError{Reason: "checksum must be two hex digits", Line: s}
		}
		if want := Checksum(body); !strings.EqualFold(sum, want) {
			return Frame{}, &MalformedFrameError{
				Reason: fmt.Sprintf("checksum mismatch: got %s, want %s", strings.ToUpper(sum), want),
				Line:   s,
			}
		}
	}

	parts := strings.Split(body, ",")
	f := Frame{Talker: parts[0], Fields: parts[1:]}
	if f.Talker == "" {
		return Frame{}, &MalformedFrameError{Reason: "empty talker", Line: s}
	}
	if want, ok := minFields[f.Talker]; ok && len(f.Fields) < want {
		return Frame{}, &MalformedFrameError{
			Reason: fmt.Sprintf("%s expects at least %d fields, got %d", f.Talker, want, len(f.Fields)),
			Line:   s,
		}
	}
	return f, nil
}
