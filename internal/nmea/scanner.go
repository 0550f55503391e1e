package nmea

import (
	"bufio"
	"bytes"
	"io"
)

// maxSentenceLen bounds a single sentence on the wire. Real surveyor
// sentences stay well under 120 bytes; the margin covers image references.
const maxSentenceLen = 1024

// Scanner pulls sentences out of a byte stream. Bytes before the '$'
// sentinel (probe command echoes, line noise after a reconnect) are
// discarded rather than surfaced as malformed frames.
type Scanner struct {
	s   *bufio.Scanner
	err error
}

// NewScanner wraps r in a sentence scanner.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, maxSentenceLen), maxSentenceLen)
	s.Split(splitSentence)
	return &Scanner{s: s}
}

// Scan advances to the next sentence. It returns false at end of stream or
// on a read error; Err tells them apart.
func (sc *Scanner) Scan() bool {
	ok := sc.s.Scan()
	if !ok {
		sc.err = sc.s.Err()
	}
	return ok
}

// Bytes returns the current sentence, from '$' up to but excluding CRLF.
func (sc *Scanner) Bytes() []byte { return sc.s.Bytes() }

// Err returns the first error encountered, nil on clean EOF.
func (sc *Scanner) Err() error { return sc.err }

// splitSentence is a bufio.SplitFunc yielding one sentence per token.
// Leading garbage before '$' is skipped. A sentence ends at the next newline
// or at the next '$' (the control unit occasionally omits terminators
// between back-to-back sentences).
func splitSentence(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.IndexByte(data, '$')
	if start < 0 {
		return len(data), nil, nil
	}

	rest := data[start+1:]
	end := bytes.IndexAny(rest, "\r\n$")
	if end < 0 {
		if atEOF && len(rest) > 0 {
			return len(data), data[start:], nil
		}
		if len(data) == maxSentenceLen {
			// Oversized garbage; drop the buffer and resync on the next '$'.
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	return start + 1 + end, data[start : start+1+end], nil
}
