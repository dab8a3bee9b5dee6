// Package dataset defines the ticket records exchanged between the two
// pipeline phases and their CSV row schema.
package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shail0iri/smartdesk/internal/annotation"
)

// TimestampLayout is the format of the generated_timestamp column.
const TimestampLayout = "2006-01-02 15:04:05"

// Column names.
const (
	ColID        = "ticket_id"
	ColProduct   = "product"
	ColText      = "ticket_text"
	ColCreatedAt = "generated_timestamp"
)

// SourceHeader is the column order of generated ticket files.
var SourceHeader = []string{ColID, ColProduct, ColText, ColCreatedAt}

// AnnotatedHeader is SourceHeader followed by the annotation columns.
var AnnotatedHeader = []string{
	ColID, ColProduct, ColText, ColCreatedAt,
	annotation.FieldSentiment, annotation.FieldUrgency, annotation.FieldCategory, annotation.FieldSummary,
}

// columnAliases maps accepted input names onto canonical columns.
var columnAliases = map[string]string{
	"id":        ColID,
	"text":      ColText,
	"createdat": ColCreatedAt,
}

// SourceRecord is one generated ticket. Immutable once written.
type SourceRecord struct {
	ID        int
	Product   string
	Text      string
	CreatedAt time.Time
}

// AnnotatedRecord joins a SourceRecord with its Annotation by position.
type AnnotatedRecord struct {
	SourceRecord
	annotation.Annotation
}

// Row renders r in SourceHeader order.
func (r SourceRecord) Row() []string {
	ts := ""
	if !r.CreatedAt.IsZero() {
		ts = r.CreatedAt.Format(TimestampLayout)
	}
	return []string{strconv.Itoa(r.ID), r.Product, r.Text, ts}
}

// Row renders r in AnnotatedHeader order.
func (r AnnotatedRecord) Row() []string {
	return append(r.SourceRecord.Row(),
		r.Sentiment, r.Urgency, r.Category, r.Summary)
}

// columns resolves header names to indexes, folding aliases.
type columns map[string]int

func indexHeader(header []string) columns {
	idx := make(columns, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if canon, ok := columnAliases[name]; ok {
			name = canon
		}
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	return idx
}

func (c columns) require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := c[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c columns) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func parseSource(c columns, row []string) (SourceRecord, error) {
	id, err := strconv.Atoi(strings.TrimSpace(c.get(row, ColID)))
	if err != nil {
		return SourceRecord{}, fmt.Errorf("parsing %s: %w", ColID, err)
	}

	rec := SourceRecord{
		ID:      id,
		Product: c.get(row, ColProduct),
		Text:    c.get(row, ColText),
	}
	if ts := strings.TrimSpace(c.get(row, ColCreatedAt)); ts != "" {
		t, err := time.ParseInLocation(TimestampLayout, ts, time.Local)
		if err != nil {
			return SourceRecord{}, fmt.Errorf("parsing %s: %w", ColCreatedAt, err)
		}
		rec.CreatedAt = t
	}
	return rec, nil
}

func parseAnnotated(c columns, row []string) (AnnotatedRecord, error) {
	src, err := parseSource(c, row)
	if err != nil {
		return AnnotatedRecord{}, err
	}
	return AnnotatedRecord{
		SourceRecord: src,
		Annotation: annotation.Annotation{
			Sentiment: c.get(row, annotation.FieldSentiment),
			Urgency:   c.get(row, annotation.FieldUrgency),
			Category:  c.get(row, annotation.FieldCategory),
			Summary:   c.get(row, annotation.FieldSummary),
		},
	}, nil
}
