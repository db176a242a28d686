// Package canon provides canonical JSON serialization and content digests.
//
// Canonical form: UTF-8, object keys sorted by code-unit order at every
// nesting level, arrays preserve input order, numbers in shortest
// round-tripping form, strings escaped minimally. This is the single
// source of truth for every digest computed anywhere in the engine.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"unicode/utf8"
)

// Canonical returns the canonical JSON encoding of v. v is first routed
// through encoding/json into generic Go values (map[string]any, []any,
// string, float64, bool, nil) so that struct field tags, omitempty, and
// nested types are honored exactly as encoding/json would render them;
// the result is then re-serialized with sorted object keys.
func Canonical(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		// Canonicalization is only ever applied to values the caller
		// already intends to serialize; a marshal failure here is a
		// programmer error, not a data error.
		panic("canon: value is not JSON-marshalable: " + err.Error())
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		panic("canon: re-decode of marshaled value failed: " + err.Error())
	}
	buf := make([]byte, 0, len(raw))
	buf = appendCanonical(buf, generic)
	return buf
}

// Digest returns the content-addressed digest of b, "sha256:<hex>".
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// DigestValue composes Canonical and Digest: the digest of v equals
// Digest(Canonical(v)).
func DigestValue(v any) string {
	return Digest(Canonical(v))
}

func appendCanonical(buf []byte, v any) []byte {
	switch vv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendString(buf, k)
			buf = append(buf, ':')
			buf = appendCanonical(buf, vv[k])
		}
		buf = append(buf, '}')
		return buf

	case []any:
		buf = append(buf, '[')
		for i, elem := range vv {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonical(buf, elem)
		}
		buf = append(buf, ']')
		return buf

	case string:
		return appendString(buf, vv)

	case float64:
		return appendNumber(buf, vv)

	case bool:
		if vv {
			return append(buf, "true"...)
		}
		return append(buf, "false"...)

	case nil:
		return append(buf, "null"...)

	default:
		// json.Unmarshal into `any` never produces anything else.
		b, _ := json.Marshal(vv)
		return append(buf, b...)
	}
}

// appendNumber renders a float64 in the shortest round-tripping form:
// integers without a decimal point, everything else via strconv's
// shortest representation.
func appendNumber(buf []byte, f float64) []byte {
	if f == float64(int64(f)) && !isNegZero(f) {
		return strconv.AppendInt(buf, int64(f), 10)
	}
	return strconv.AppendFloat(buf, f, 'g', -1, 64)
}

func isNegZero(f float64) bool {
	return f == 0 && 1/f < 0
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if r < 0x20 {
				buf = append(buf, '\\', 'u')
				buf = append(buf, hexDigit(byte(r>>12)), hexDigit(byte(r>>8)), hexDigit(byte(r>>4)), hexDigit(byte(r)))
			} else {
				buf = utf8.AppendRune(buf, r)
			}
		}
	}
	buf = append(buf, '"')
	return buf
}

func hexDigit(b byte) byte {
	b &= 0x0f
	if b < 10 {
		return '0' + b
	}
	return 'a' + (b - 10)
}
