// Package frontmatter locates and edits the metadata header of a markdown
// document.
//
// A header is the block between an opening "---" line at the very start of
// the document and the next "---" line:
//
//	---
//	type: number
//	unit: "kg"
//	data:
//	  "2024-01-01": 72.5
//	  "2024-01-02": 72.1
//	---
//	# Weight
//
// Only top-level "key: value" fields are interpreted. Indented lines belong to
// the nearest preceding top-level key and are exposed verbatim through
// [Document.Section]. Everything else is treated as opaque text: a
// [Document.ReplaceSection] call rewrites exactly one section and returns every
// other byte of the input unchanged, including CRLF line endings and the body.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const delimiter = "---"

// ErrNoHeader indicates the document has no parseable frontmatter header.
var ErrNoHeader = errors.New("missing frontmatter header")

var errUnclosedHeader = errors.New("missing closing delimiter")

// ScalarKind distinguishes top-level field values.
type ScalarKind uint8

// ScalarKind values.
const (
	ScalarString ScalarKind = iota
	ScalarNumber
)

// Scalar is a parsed top-level field value.
type Scalar struct {
	Kind   ScalarKind
	String string  // Raw text for bare values, unquoted text for quoted ones.
	Number float64 // Set when Kind == ScalarNumber.
	Quoted bool    // The value was written in single or double quotes.
}

// line is one header line. start/end exclude the line terminator; next is the
// offset of the following line.
type line struct {
	start int
	end   int
	next  int
}

// Document is a split markdown document. It retains src; callers must not
// modify src while the Document is in use.
type Document struct {
	src        []byte
	lines      []line
	closeStart int // offset of the closing delimiter line
	bodyStart  int // offset just after the closing delimiter line
	eol        string
}

// Split parses the header of src. It returns an error wrapping [ErrNoHeader]
// when src does not start with a delimiter line or the header is never closed.
func Split(src []byte) (*Document, error) {
	first, ok := nextLine(src, 0)
	if !ok || !isDelimiter(src, first) {
		return nil, ErrNoHeader
	}

	doc := &Document{src: src, eol: lineEnding(src, first)}

	pos := first.next
	for {
		ln, ok := nextLine(src, pos)
		if !ok {
			return nil, fmt.Errorf("%w: %w", ErrNoHeader, errUnclosedHeader)
		}

		if isDelimiter(src, ln) {
			doc.closeStart = ln.start
			doc.bodyStart = ln.next

			return doc, nil
		}

		doc.lines = append(doc.lines, ln)
		pos = ln.next
	}
}

// Body returns the bytes after the closing delimiter line.
func (d *Document) Body() []byte {
	return d.src[d.bodyStart:]
}

// Bytes returns the full original document.
func (d *Document) Bytes() []byte {
	return d.src
}

// Keys returns top-level keys in header order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.lines))

	for _, ln := range d.lines {
		if key, _, ok := d.topLevel(ln); ok {
			keys = append(keys, key)
		}
	}

	return keys
}

// Field returns the scalar value of a top-level key. A key whose value is
// empty (a section opener such as "data:") reports false.
func (d *Document) Field(key string) (Scalar, bool) {
	idx := d.find(key)
	if idx < 0 {
		return Scalar{}, false
	}

	_, raw, _ := d.topLevel(d.lines[idx])
	if raw == "" {
		return Scalar{}, false
	}

	return parseScalar(raw), true
}

// Section returns the nested text of a top-level key. For "key: {}" it
// returns "{}". For "key:" followed by indented lines it returns those lines
// joined by "\n", trailing blank lines excluded. For an inline scalar it
// returns the raw value text.
func (d *Document) Section(key string) (string, bool) {
	idx := d.find(key)
	if idx < 0 {
		return "", false
	}

	_, raw, _ := d.topLevel(d.lines[idx])
	if raw != "" {
		return raw, true
	}

	last := d.sectionEnd(idx)

	parts := make([]string, 0, last-idx)
	for i := idx + 1; i <= last; i++ {
		parts = append(parts, d.text(d.lines[i]))
	}

	return strings.Join(parts, "\n"), true
}

// ReplaceSection returns a copy of the document with the section for key
// replaced by text. text is either "{}" (written inline as "key: {}") or
// newline-separated, already indented entry lines. A missing key is appended
// as the last header line. All other bytes are copied unchanged.
func (d *Document) ReplaceSection(key, text string) []byte {
	var replacement strings.Builder

	replacement.WriteString(key)
	replacement.WriteString(":")

	if text == "" || text == "{}" {
		replacement.WriteString(" {}")
		replacement.WriteString(d.eol)
	} else {
		replacement.WriteString(d.eol)

		for _, entry := range strings.Split(text, "\n") {
			replacement.WriteString(entry)
			replacement.WriteString(d.eol)
		}
	}

	from, to := d.closeStart, d.closeStart

	if idx := d.find(key); idx >= 0 {
		from = d.lines[idx].start
		to = d.lines[d.sectionEnd(idx)].next
	}

	out := make([]byte, 0, len(d.src)+replacement.Len())
	out = append(out, d.src[:from]...)
	out = append(out, replacement.String()...)
	out = append(out, d.src[to:]...)

	return out
}

// find returns the header line index of key, or -1.
func (d *Document) find(key string) int {
	for i, ln := range d.lines {
		if k, _, ok := d.topLevel(ln); ok && k == key {
			return i
		}
	}

	return -1
}

// sectionEnd returns the index of the last line belonging to the section that
// starts at idx: indented lines and interior blank lines, excluding trailing
// blank lines.
func (d *Document) sectionEnd(idx int) int {
	last := idx

	for i := idx + 1; i < len(d.lines); i++ {
		txt := d.text(d.lines[i])

		if strings.TrimSpace(txt) == "" {
			continue
		}

		if txt[0] != ' ' && txt[0] != '\t' {
			break
		}

		last = i
	}

	return last
}

// topLevel splits an unindented "key: value" line.
func (d *Document) topLevel(ln line) (string, string, bool) {
	txt := d.text(ln)
	if txt == "" || txt[0] == ' ' || txt[0] == '\t' || txt[0] == '#' {
		return "", "", false
	}

	key, rest, ok := strings.Cut(txt, ":")
	if !ok {
		return "", "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}

	return key, strings.TrimSpace(stripComment(rest)), true
}

func (d *Document) text(ln line) string {
	return string(bytes.TrimSuffix(d.src[ln.start:ln.end], []byte("\r")))
}

func parseScalar(raw string) Scalar {
	if len(raw) >= 2 {
		switch {
		case raw[0] == '"' && raw[len(raw)-1] == '"':
			unquoted, err := strconv.Unquote(raw)
			if err != nil {
				unquoted = raw[1 : len(raw)-1]
			}

			return Scalar{Kind: ScalarString, String: unquoted, Quoted: true}
		case raw[0] == '\'' && raw[len(raw)-1] == '\'':
			return Scalar{Kind: ScalarString, String: strings.ReplaceAll(raw[1:len(raw)-1], "''", "'"), Quoted: true}
		}
	}

	if n, err := strconv.ParseFloat(raw, 64); err == nil && isDecimal(raw) {
		return Scalar{Kind: ScalarNumber, String: raw, Number: n}
	}

	return Scalar{Kind: ScalarString, String: raw}
}

// isDecimal rejects forms ParseFloat accepts but a header author would not
// mean as a number (hex, Inf, NaN, underscores).
func isDecimal(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E' {
			continue
		}

		return false
	}

	return true
}

// stripComment drops a trailing " # comment" outside quotes.
func stripComment(s string) string {
	inDouble, inSingle := false, false

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inDouble {
				i++
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '#':
			if !inDouble && !inSingle && (i == 0 || s[i-1] == ' ' || s[i-1] == '\t') {
				return s[:i]
			}
		}
	}

	return s
}

func nextLine(src []byte, pos int) (line, bool) {
	if pos >= len(src) {
		return line{}, false
	}

	end := bytes.IndexByte(src[pos:], '\n')
	if end < 0 {
		return line{start: pos, end: len(src), next: len(src)}, true
	}

	return line{start: pos, end: pos + end, next: pos + end + 1}, true
}

func isDelimiter(src []byte, ln line) bool {
	txt := bytes.TrimSuffix(src[ln.start:ln.end], []byte("\r"))
	txt = bytes.TrimPrefix(txt, []byte("\ufeff"))

	return string(bytes.TrimRight(txt, " \t")) == delimiter
}

func lineEnding(src []byte, ln line) string {
	if ln.end > ln.start && src[ln.end-1] == '\r' {
		return "\r\n"
	}

	return "\n"
}
