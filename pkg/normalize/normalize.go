// Package normalize puts candidate values into a deterministic canonical
// form so that agreement checks compare meaning, not formatting.
//
// Rules, applied in order:
//   - Unicode NFC normalization
//   - surrounding whitespace is trimmed
//   - boolean tokens ("true"/"false", any casing) lower to "true"/"false"
//   - numeric strings reduce to their shortest exact decimal form
//   - JSON objects and arrays re-serialize per RFC 8785 (JCS)
package normalize

import (
	"strconv"
	"strings"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Canonical returns the canonical form of a raw candidate value.
// The transform is deterministic and idempotent: Canonical(Canonical(v))
// always equals Canonical(v).
func Canonical(raw string) string {
	s := norm.NFC.String(raw)
	s = strings.TrimSpace(s)

	if b, ok := canonicalBool(s); ok {
		return b
	}
	if n, ok := canonicalNumber(s); ok {
		return n
	}
	if j, ok := canonicalJSON(s); ok {
		return j
	}
	return s
}

// Equal reports whether two raw values agree after canonicalization.
func Equal(a, b string) bool {
	return Canonical(a) == Canonical(b)
}

func canonicalBool(s string) (string, bool) {
	switch strings.ToLower(s) {
	case "true":
		return "true", true
	case "false":
		return "false", true
	}
	return "", false
}

// canonicalNumber reduces numeric formatting variants ("42", "42.0",
// "4.2e1") to one representation. Integers that fit int64 keep exact
// precision; everything else goes through the shortest float64 form.
func canonicalNumber(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", false
	}
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10), true
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

// canonicalJSON re-serializes JSON objects and arrays per RFC 8785 so key
// order and insignificant whitespace cannot break strict agreement.
// Scalars are left to the rules above.
func canonicalJSON(s string) (string, bool) {
	if len(s) == 0 || (s[0] != '{' && s[0] != '[') {
		return "", false
	}
	out, err := jcs.Transform([]byte(s))
	if err != nil {
		return "", false
	}
	return string(out), true
}
