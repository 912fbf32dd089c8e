package ledger

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/calvinalkan/habits/internal/frontmatter"
)

// EmptySentinel is the inline form of an empty ledger.
const EmptySentinel = "{}"

// SectionKey is the frontmatter key holding the ledger.
const SectionKey = "data"

const entryIndent = "  "

// Decode parses the text of a ledger section. Blank lines and lines starting
// with '#' are ignored. Malformed lines are skipped; Decode never fails.
func Decode(section string) Ledger {
	out := Ledger{}

	if strings.TrimSpace(section) == EmptySentinel {
		return out
	}

	for _, raw := range strings.Split(section, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" || line[0] == '#' {
			continue
		}

		key, value, ok := decodeLine(line)
		if !ok {
			continue
		}

		out[key] = value
	}

	return out
}

// decodeLine parses `"key": value`.
func decodeLine(line string) (string, Value, bool) {
	if len(line) < 2 || line[0] != '"' {
		return "", Value{}, false
	}

	end := strings.IndexByte(line[1:], '"')
	if end < 0 {
		return "", Value{}, false
	}

	key := line[1 : end+1]
	if key == "" {
		return "", Value{}, false
	}

	rest := strings.TrimSpace(line[end+2:])

	rest, ok := strings.CutPrefix(rest, ":")
	if !ok {
		return "", Value{}, false
	}

	literal := strings.TrimSpace(rest)
	if literal == "" {
		return "", Value{}, false
	}

	if len(literal) >= 2 && (literal[0] == '"' || literal[0] == '\'') && literal[len(literal)-1] == literal[0] {
		return key, Text(unescape(literal[1 : len(literal)-1])), true
	}

	if f, err := strconv.ParseFloat(literal, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) && isPlainNumber(literal) {
		return key, Number(f), true
	}

	return key, Text(literal), true
}

// isPlainNumber accepts decimal literals, optionally with an exponent, as
// written by Encode or by hand. Hex and special spellings stay strings.
func isPlainNumber(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E' {
			continue
		}

		return false
	}

	return true
}

func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var b strings.Builder

	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)

			continue
		}

		i++

		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '"', '\\':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}

	return b.String()
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`).Replace(s)
}

// Encode renders l as section text: the empty sentinel, or one indented
// `"key": value` line per entry in ascending key order, joined by "\n".
func Encode(l Ledger) string {
	if len(l) == 0 {
		return EmptySentinel
	}

	var b strings.Builder

	for i, key := range l.Keys() {
		if i > 0 {
			b.WriteByte('\n')
		}

		v := l[key]

		b.WriteString(entryIndent)
		b.WriteByte('"')
		b.WriteString(escape(key))
		b.WriteString(`": `)

		if v.IsNumber() {
			b.WriteString(formatNumber(v.num))
		} else {
			b.WriteByte('"')
			b.WriteString(escape(v.str))
			b.WriteByte('"')
		}
	}

	return b.String()
}

// ErrNoHeader is returned by [FrontmatterCodec.Encode] when the document has
// no frontmatter to write the ledger into.
var ErrNoHeader = frontmatter.ErrNoHeader

// Codec reads and writes a ledger embedded in a document.
type Codec interface {
	// Decode extracts the ledger from the full document text. Documents
	// without a ledger section decode to an empty ledger.
	Decode(doc []byte) (Ledger, error)

	// Encode returns doc with its ledger replaced by l, leaving every other
	// byte unchanged.
	Encode(doc []byte, l Ledger) ([]byte, error)
}

// FrontmatterCodec stores the ledger in the "data" key of the frontmatter.
type FrontmatterCodec struct{}

// Decode implements [Codec]. A missing header is an error wrapping
// [ErrNoHeader]; a header without a data key yields an empty ledger.
func (FrontmatterCodec) Decode(doc []byte) (Ledger, error) {
	fm, err := frontmatter.Split(doc)
	if err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}

	section, ok := fm.Section(SectionKey)
	if !ok {
		return Ledger{}, nil
	}

	return Decode(section), nil
}

// Encode implements [Codec].
func (FrontmatterCodec) Encode(doc []byte, l Ledger) ([]byte, error) {
	fm, err := frontmatter.Split(doc)
	if err != nil {
		if errors.Is(err, frontmatter.ErrNoHeader) {
			return nil, fmt.Errorf("encode ledger: %w", err)
		}

		return nil, err
	}

	return fm.ReplaceSection(SectionKey, Encode(l)), nil
}

var _ Codec = FrontmatterCodec{}
