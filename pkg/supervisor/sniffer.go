package supervisor

import (
	"bytes"

	"github.com/tidwall/gjson"
)

const maxSniffLine = 1 << 20

// sessionSniffer scans a byte stream for newline-delimited JSON objects that
// carry a session_id and reports each new id. Anything that is not a complete
// JSON object is ignored.
type sessionSniffer struct {
	key        string
	buf        []byte
	discarding bool
	last       string
	found      func(id string)
}

func newSessionSniffer(key string, found func(id string)) *sessionSniffer {
	return &sessionSniffer{key: key, found: found}
}

func (s *sessionSniffer) Write(p []byte) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			if !s.discarding {
				s.buf = append(s.buf, p...)
				if len(s.buf) > maxSniffLine {
					s.buf = s.buf[:0]
					s.discarding = true
				}
			}
			return
		}
		if s.discarding {
			s.discarding = false
		} else {
			s.buf = append(s.buf, p[:i]...)
			s.scan(s.buf)
		}
		s.buf = s.buf[:0]
		p = p[i+1:]
	}
}

// Flush scans a trailing line that was never terminated
func (s *sessionSniffer) Flush() {
	if !s.discarding && len(s.buf) > 0 {
		s.scan(s.buf)
	}
	s.buf = s.buf[:0]
	s.discarding = false
}

func (s *sessionSniffer) scan(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' || !gjson.ValidBytes(line) {
		return
	}
	id := gjson.GetBytes(line, s.key)
	if id.Type != gjson.String || id.Str == "" || id.Str == s.last {
		return
	}
	s.last = id.Str
	if s.found != nil {
		s.found(id.Str)
	}
}
