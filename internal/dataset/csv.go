package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/shail0iri/smartdesk/internal/annotation"
)

// ErrEmptyFile is returned when a CSV input has no header row.
var ErrEmptyFile = errors.New("empty csv file")

// WriteCSV writes header and rows to w.
func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing rows: %w", err)
	}
	return nil
}

// ReadCSV reads the header and all data rows from r. Rows may have fewer
// fields than the header.
func ReadCSV(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading rows: %w", err)
	}
	return header, rows, nil
}

// ReadSource parses a generated-tickets file. Only the id, product and text
// columns are required.
func ReadSource(r io.Reader) ([]SourceRecord, error) {
	header, rows, err := ReadCSV(r)
	if err != nil {
		return nil, err
	}
	cols := indexHeader(header)
	if err := cols.require(ColID, ColProduct, ColText); err != nil {
		return nil, err
	}

	out := make([]SourceRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := parseSource(cols, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadAnnotated parses an annotated-tickets file.
func ReadAnnotated(r io.Reader) ([]AnnotatedRecord, error) {
	header, rows, err := ReadCSV(r)
	if err != nil {
		return nil, err
	}
	cols := indexHeader(header)
	if err := cols.require(ColID, ColProduct, ColText,
		annotation.FieldSentiment, annotation.FieldUrgency, annotation.FieldCategory, annotation.FieldSummary); err != nil {
		return nil, err
	}

	out := make([]AnnotatedRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := parseAnnotated(cols, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// SourceCodec maps SourceRecords to checkpoint rows.
type SourceCodec struct{}

func (SourceCodec) Header() []string              { return slices.Clone(SourceHeader) }
func (SourceCodec) Encode(r SourceRecord) []string { return r.Row() }

func (SourceCodec) Decode(header, row []string) (SourceRecord, error) {
	return parseSource(indexHeader(header), row)
}

// AnnotatedCodec maps AnnotatedRecords to checkpoint rows.
type AnnotatedCodec struct{}

func (AnnotatedCodec) Header() []string                 { return slices.Clone(AnnotatedHeader) }
func (AnnotatedCodec) Encode(r AnnotatedRecord) []string { return r.Row() }

func (AnnotatedCodec) Decode(header, row []string) (AnnotatedRecord, error) {
	return parseAnnotated(indexHeader(header), row)
}
