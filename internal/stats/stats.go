// Package stats summarizes an annotated result set.
package stats

import (
	"cmp"
	"slices"
	"unicode/utf8"

	"github.com/shail0iri/smartdesk/internal/dataset"
)

// Count is one label's share of the valid records.
type Count struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Summary describes a result set. Distributions and the average summary
// length cover only records whose annotation is not the error sentinel.
type Summary struct {
	Total            int     `json:"total"`
	Valid            int     `json:"valid"`
	Errors           int     `json:"errors"`
	ErrorRate        float64 `json:"error_rate"`
	Sentiment        []Count `json:"sentiment"`
	Urgency          []Count `json:"urgency"`
	Category         []Count `json:"category"`
	AvgSummaryLength float64 `json:"avg_summary_length"`
}

// Summarize computes a Summary over recs.
func Summarize(recs []dataset.AnnotatedRecord) Summary {
	s := Summary{Total: len(recs)}

	sentiment := map[string]int{}
	urgency := map[string]int{}
	category := map[string]int{}
	summaryRunes := 0

	for _, r := range recs {
		if r.IsError() {
			s.Errors++
			continue
		}
		s.Valid++
		sentiment[r.Sentiment]++
		urgency[r.Urgency]++
		category[r.Category]++
		summaryRunes += utf8.RuneCountInString(r.Summary)
	}

	if s.Total > 0 {
		s.ErrorRate = percent(s.Errors, s.Total)
	}
	if s.Valid > 0 {
		s.AvgSummaryLength = float64(summaryRunes) / float64(s.Valid)
	}
	s.Sentiment = distribution(sentiment, s.Valid)
	s.Urgency = distribution(urgency, s.Valid)
	s.Category = distribution(category, s.Valid)
	return s
}

// distribution orders counts by frequency, then label.
func distribution(m map[string]int, total int) []Count {
	out := make([]Count, 0, len(m))
	for label, n := range m {
		out = append(out, Count{Label: label, Count: n, Percent: percent(n, total)})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})
	return out
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
