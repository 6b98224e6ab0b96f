package canonical

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Canonicalize serializes v deterministically: object keys are sorted at
// every nesting level, arrays keep their order, and no insignificant
// whitespace is emitted. Logically equal values always produce
// byte-identical output.
func Canonicalize(v Value) string {
	var buf bytes.Buffer
	writeValue(&buf, v, true)
	return buf.String()
}

func writeValue(buf *bytes.Buffer, v Value, sorted bool) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(formatNumber(v.n))
	case KindString:
		writeString(buf, v.s)
	case KindList:
		buf.WriteByte('[')
		for i, el := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeValue(buf, el, sorted)
		}
		buf.WriteByte(']')
	case KindMap:
		members := v.members
		if sorted {
			members = make([]Member, len(v.members))
			copy(members, v.members)
			sort.SliceStable(members, func(i, j int) bool {
				return lessUTF16(members[i].Key, members[j].Key)
			})
		}
		buf.WriteByte('{')
		for i, m := range members {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, m.Key)
			buf.WriteByte(':')
			writeValue(buf, m.Value, sorted)
		}
		buf.WriteByte('}')
	}
}

// lessUTF16 orders strings by UTF-16 code units, the ordering JSON producers
// in other ecosystems use for object keys.
func lessUTF16(a, b string) bool {
	if isASCII(a) && isASCII(b) {
		return a < b
	}
	ua, ub := utf16.Encode([]rune(a)), utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// formatNumber renders n in shortest round-trip form. Integers below 1e21
// never use an exponent. Non-finite numbers have no JSON form and render as null.
func formatNumber(n float64) string {
	if !isFinite(n) {
		return "null"
	}
	if n == 0 {
		return "0"
	}
	abs := n
	if abs < 0 {
		abs = -abs
	}
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	s := strconv.FormatFloat(n, 'e', -1, 64)
	s = strings.Replace(s, "e-0", "e-", 1)
	s = strings.Replace(s, "e+0", "e+", 1)
	return s
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				if c < 0x20 {
					buf.WriteString(`\u00`)
					buf.WriteByte(hexDigits[c>>4])
					buf.WriteByte(hexDigits[c&0xf])
				} else {
					buf.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf.WriteString(`\ufffd`)
		} else {
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}
