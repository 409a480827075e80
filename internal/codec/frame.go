// Package codec implements the LSNP wire format: UTF-8 KEY: value lines
// terminated by a blank line.
package codec

import (
	"fmt"
	"sort"
	"strings"
)

// MaxFrameSize bounds a general-purpose frame. File chunks are exempt —
// callers encoding FILE_CHUNK frames should size DATA so the whole frame
// stays near this bound, but the codec itself does not enforce it there.
const MaxFrameSize = 4096

// Frame is a decoded KEY:VALUE mapping. TYPE is always present once a
// Frame has been produced by Decode.
type Frame map[string]string

// Type returns the TYPE field, or "" if absent.
func (f Frame) Type() string { return f["TYPE"] }

// UserID returns USER_ID if present, else FROM.
func (f Frame) UserID() string {
	if v, ok := f["USER_ID"]; ok {
		return v
	}
	return f["FROM"]
}

// New builds a Frame for the given TYPE with no other fields set.
func New(typ string) Frame {
	return Frame{"TYPE": typ}
}

// Set stores a field and returns the frame for chaining.
func (f Frame) Set(key, value string) Frame {
	f[key] = value
	return f
}

// Decode parses a single frame's worth of bytes: lines up to and including
// the blank-line terminator. It fails if TYPE is absent or the terminator
// is missing.
func Decode(data []byte) (Frame, error) {
	text := string(data)
	if !strings.Contains(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		return nil, fmt.Errorf("codec: missing frame terminator")
	}

	f := make(Frame)
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, fmt.Errorf("codec: unparseable line %q", line)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			return nil, fmt.Errorf("codec: empty key in line %q", line)
		}
		f[key] = value
	}

	if f.Type() == "" {
		return nil, fmt.Errorf("codec: missing TYPE field")
	}
	return f, nil
}

// Encode serializes a Frame: TYPE first for readability, then remaining
// fields in lexical key order, then the blank terminator. Frame is a map
// and keeps no insertion order, so the order fields were Set in is not
// preserved on the wire; only TYPE being first is fixed.
func Encode(f Frame) ([]byte, error) {
	typ := f.Type()
	if typ == "" {
		return nil, fmt.Errorf("codec: frame missing TYPE field")
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		if k == "TYPE" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "TYPE: %s\n", typ)
	for _, k := range keys {
		v := f[k]
		if strings.Contains(v, "\n") {
			return nil, fmt.Errorf("codec: field %q contains a newline; base64-encode multi-line payloads", k)
		}
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	b.WriteByte('\n')

	out := []byte(b.String())
	if len(out) > MaxFrameSize && typ != "FILE_CHUNK" {
		return nil, fmt.Errorf("codec: encoded frame exceeds %d bytes", MaxFrameSize)
	}
	return out, nil
}
