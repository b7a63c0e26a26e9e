package reader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/oicur0t/logdedup/pkg/models"
)

var (
	ErrNotObject      = errors.New("record is not a JSON object")
	ErrMissingField   = errors.New("missing field")
	ErrDuplicateField = errors.New("duplicate field")
	ErrNotString      = errors.New("field is not a string")
	ErrInvalidUTF8    = errors.New("invalid UTF-8")
)

type field struct {
	name string
	dst  *string
}

func recordFields(r *models.Record) []field {
	return []field{
		{"time_iso8601", &r.TimeISO8601},
		{"remote_addr", &r.RemoteAddr},
		{"remote_user", &r.RemoteUser},
		{"request", &r.Request},
		{"http_referer", &r.HTTPReferer},
		{"http_user_agent", &r.HTTPUserAgent},
		{"http_accept", &r.HTTPAccept},
		{"http_x_forwarded_for", &r.HTTPXForwardedFor},
		{"http_cookie", &r.HTTPCookie},
		{"status", &r.Status},
		{"bytes_sent", &r.BytesSent},
		{"body_bytes_sent", &r.BodyBytesSent},
		{"connection", &r.Connection},
		{"connection_requests", &r.ConnectionRequests},
	}
}

// Decode parses one line into a Record. The line must be valid UTF-8 and a
// single JSON object without repeated keys; all fourteen fields must be
// present and hold JSON strings. Unknown fields are ignored.
func Decode(line string) (models.Record, error) {
	if !utf8.ValidString(line) {
		return models.Record{}, ErrInvalidUTF8
	}
	if hasLoneSurrogate(line) {
		return models.Record{}, fmt.Errorf("%w: unpaired surrogate escape", ErrInvalidUTF8)
	}

	raw, err := decodeObject(line)
	if err != nil {
		return models.Record{}, err
	}

	var rec models.Record
	for _, f := range recordFields(&rec) {
		value, ok := raw[f.name]
		if !ok {
			return models.Record{}, fmt.Errorf("%w %q", ErrMissingField, f.name)
		}
		if len(value) == 0 || value[0] != '"' {
			return models.Record{}, fmt.Errorf("%w: %q", ErrNotString, f.name)
		}
		if err := json.Unmarshal(value, f.dst); err != nil {
			return models.Record{}, fmt.Errorf("invalid value for %q: %w", f.name, err)
		}
	}

	return rec, nil
}

// decodeObject splits a JSON object into its raw member values, rejecting
// repeated keys and anything after the closing brace
func decodeObject(line string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(line))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, ErrNotObject
	}

	members := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("invalid JSON: unexpected %v", tok)
		}
		if _, seen := members[key]; seen {
			return nil, fmt.Errorf("%w %q", ErrDuplicateField, key)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		members[key] = value
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("invalid JSON: unexpected data after object")
	}

	return members, nil
}

// hasLoneSurrogate reports whether s contains a \uXXXX escape for a UTF-16
// surrogate that is not part of a high/low pair
func hasLoneSurrogate(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			continue
		}
		if s[i+1] != 'u' {
			i++ // skip the escaped character, which may be a backslash
			continue
		}

		r, ok := hex4(s, i+2)
		if !ok {
			continue
		}
		i += 5

		switch {
		case r >= 0xDC00 && r <= 0xDFFF:
			return true
		case r >= 0xD800 && r <= 0xDBFF:
			if i+6 >= len(s) || s[i+1] != '\\' || s[i+2] != 'u' {
				return true
			}
			low, ok := hex4(s, i+3)
			if !ok || low < 0xDC00 || low > 0xDFFF {
				return true
			}
			i += 6
		}
	}
	return false
}

func hex4(s string, start int) (rune, bool) {
	if start+4 > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[start:start+4], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}
