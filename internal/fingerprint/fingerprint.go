// Package fingerprint derives the grouping identity of an alert.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Canonical encodes v as compact JSON with lexicographically sorted map keys.
// HTML characters are not escaped and non-ASCII text is kept as UTF-8,
// U+2028 and U+2029 included.
//
// Invalid UTF-8 in strings is encoded as U+FFFD, so byte strings that differ
// only in invalid sequences share a canonical form. Alerts decoded from JSON
// payloads never carry such bytes.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encode always terminates with a newline.
	return unescapeSeparators(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
}

var (
	lineSep = []byte(`\u2028`)
	paraSep = []byte(`\u2029`)
)

// unescapeSeparators turns the \u2028 and \u2029 escapes encoding/json
// always emits back into raw UTF-8. An escape preceded by an odd run of
// backslashes is literal text and stays.
func unescapeSeparators(b []byte) []byte {
	if !bytes.Contains(b, lineSep) && !bytes.Contains(b, paraSep) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' {
			out = append(out, b[i])
			continue
		}
		if i+6 <= len(b) {
			switch {
			case bytes.Equal(b[i:i+6], lineSep):
				out = append(out, "\u2028"...)
				i += 5
				continue
			case bytes.Equal(b[i:i+6], paraSep):
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}
		// any other escape: copy the backslash and the escaped byte together
		out = append(out, b[i])
		if i+1 < len(b) {
			i++
			out = append(out, b[i])
		}
	}
	return out
}

// Compute returns the 64 character hex SHA-256 of the canonical form of
// {source, metric, title, labels}. Label insertion order never matters.
func Compute(source string, labels map[string]string, metric, title string) string {
	if labels == nil {
		labels = map[string]string{}
	}
	base := map[string]any{
		"source": source,
		"metric": metric,
		"title":  title,
		"labels": labels,
	}
	data, err := Canonical(base)
	if err != nil {
		// map[string]string and strings always encode
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
