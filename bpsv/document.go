// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bpsv

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	nerrors "github.com/shell-reserve/ngdp/errors"
)

// lineKind tags one physical body line so Emit can reproduce the document
// byte-for-byte, including comments and blank lines a strict schema+rows
// model would otherwise discard.
type lineKind int

const (
	lineRow lineKind = iota
	lineComment
	lineBlank
)

type bodyLine struct {
	kind lineKind
	row  int    // index into Document.Rows, valid when kind == lineRow
	text string // verbatim text, valid when kind == lineComment or lineBlank
}

// Document is a parsed BPSV table: an ordered schema, an ordered row list,
// and an optional sequence-number footer.
type Document struct {
	Columns []Column
	Rows    [][]Value

	// Seqn is nil if the document carried no "## seqn = N" footer.
	Seqn *uint64

	headerText string
	lines      []bodyLine
}

const seqnPrefix = "## seqn = "

// Parse decodes a BPSV document. It fails with an *errors.Error tagged
// CodeSchema for a malformed header, CodeArityMismatch when a row's field
// count disagrees with the schema, or CodeTypeError when a value is
// rejected by its column's type.
func Parse(data []byte) (*Document, error) {
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		return nil, nerrors.New(nerrors.CodeSchema, "bpsv.Parse").WithPath("missing header line")
	}
	headerText := sc.Text()
	cols, err := parseSchema(headerText)
	if err != nil {
		return nil, err
	}

	doc := &Document{Columns: cols, headerText: headerText}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			doc.lines = append(doc.lines, bodyLine{kind: lineBlank, text: line})
		case strings.HasPrefix(line, seqnPrefix):
			n, perr := strconv.ParseUint(strings.TrimSpace(line[len(seqnPrefix):]), 10, 64)
			if perr != nil {
				return nil, nerrors.Wrap(nerrors.CodeSchema, "bpsv.Parse", perr).WithPath("malformed seqn footer")
			}
			doc.Seqn = &n
			doc.lines = append(doc.lines, bodyLine{kind: lineComment, text: line})
		case strings.HasPrefix(line, "#"):
			doc.lines = append(doc.lines, bodyLine{kind: lineComment, text: line})
		default:
			fields := strings.Split(line, "|")
			if len(fields) != len(cols) {
				return nil, nerrors.New(nerrors.CodeArityMismatch, "bpsv.Parse").
					WithPath(fmt.Sprintf("row has %d fields, schema has %d", len(fields), len(cols)))
			}
			row := make([]Value, len(cols))
			for i, raw := range fields {
				v, verr := parseValue(cols[i], raw)
				if verr != nil {
					return nil, nerrors.Wrap(nerrors.CodeTypeError, "bpsv.Parse", verr)
				}
				row[i] = v
			}
			doc.lines = append(doc.lines, bodyLine{kind: lineRow, row: len(doc.Rows)})
			doc.Rows = append(doc.Rows, row)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nerrors.Wrap(nerrors.CodeTruncatedInput, "bpsv.Parse", err)
	}
	return doc, nil
}

// parseSchema parses the "Name!TYPE:length|..." header line.
func parseSchema(header string) ([]Column, error) {
	parts := strings.Split(header, "|")
	cols := make([]Column, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		bang := strings.IndexByte(p, '!')
		colon := strings.LastIndexByte(p, ':')
		if bang < 0 || colon < 0 || colon < bang {
			return nil, nerrors.New(nerrors.CodeSchema, "bpsv.parseSchema").WithPath(fmt.Sprintf("malformed column %q", p))
		}
		name := p[:bang]
		kindStr := p[bang+1 : colon]
		lengthStr := p[colon+1:]
		kind, ok := parseFieldKind(kindStr)
		if !ok {
			return nil, nerrors.New(nerrors.CodeSchema, "bpsv.parseSchema").WithPath(fmt.Sprintf("unknown type %q", kindStr))
		}
		length, err := strconv.Atoi(lengthStr)
		if err != nil {
			return nil, nerrors.Wrap(nerrors.CodeSchema, "bpsv.parseSchema", err).WithPath(fmt.Sprintf("bad length %q", lengthStr))
		}
		if seen[name] {
			return nil, nerrors.New(nerrors.CodeSchema, "bpsv.parseSchema").WithPath(fmt.Sprintf("duplicate column %q", name))
		}
		seen[name] = true
		cols = append(cols, Column{Name: name, Kind: kind, Length: length})
	}
	return cols, nil
}

// Emit serializes the document back to bytes. For a document produced by
// Parse, Emit reproduces the original input byte-for-byte (Testable
// Property 1): comments and blank body lines are preserved verbatim, and
// the header line is stored as parsed rather than reconstructed from
// Columns so that harmless casing differences in the TYPE keyword survive.
func (d *Document) Emit() []byte {
	var b strings.Builder
	b.WriteString(d.headerText)
	b.WriteByte('\n')
	for _, bl := range d.lines {
		switch bl.kind {
		case lineRow:
			row := d.Rows[bl.row]
			parts := make([]string, len(row))
			for i, v := range row {
				parts[i] = v.Raw()
			}
			b.WriteString(strings.Join(parts, "|"))
		default:
			b.WriteString(bl.text)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// ColumnIndex returns the index of the named column, or -1 if absent.
func (d *Document) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Field looks up a cell by (column name, row index).
func (d *Document) Field(row int, name string) (Value, bool) {
	i := d.ColumnIndex(name)
	if i < 0 || row < 0 || row >= len(d.Rows) {
		return Value{}, false
	}
	return d.Rows[row][i], true
}

// New constructs an empty Document for the given schema, ready to have rows
// appended and then be Emit-ed. This is used by tests and by code that
// synthesizes BPSV (e.g. translating a fetched config into a table for
// --output bpsv).
func New(cols []Column) *Document {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c.String()
	}
	return &Document{Columns: cols, headerText: strings.Join(parts, "|")}
}

// AddRow appends a row given already-typed values; it validates arity only,
// not the individual Value.Kind tags (callers are expected to construct
// Values via the column's type, e.g. with AppendRow from raw strings).
func (d *Document) AddRow(values []Value) error {
	if len(values) != len(d.Columns) {
		return nerrors.New(nerrors.CodeArityMismatch, "bpsv.AddRow")
	}
	d.lines = append(d.lines, bodyLine{kind: lineRow, row: len(d.Rows)})
	d.Rows = append(d.Rows, values)
	return nil
}

// AppendRow parses raw strings against the schema and appends the resulting
// row, the same way Parse would for a body line.
func (d *Document) AppendRow(raw []string) error {
	if len(raw) != len(d.Columns) {
		return nerrors.New(nerrors.CodeArityMismatch, "bpsv.AppendRow")
	}
	row := make([]Value, len(raw))
	for i, s := range raw {
		v, err := parseValue(d.Columns[i], s)
		if err != nil {
			return nerrors.Wrap(nerrors.CodeTypeError, "bpsv.AppendRow", err)
		}
		row[i] = v
	}
	return d.AddRow(row)
}

// SetSeqn sets the sequence-number footer, appending the canonical
// "## seqn = N" line.
func (d *Document) SetSeqn(n uint64) {
	d.Seqn = &n
	d.lines = append(d.lines, bodyLine{kind: lineComment, text: fmt.Sprintf("%s%d", seqnPrefix, n)})
}
