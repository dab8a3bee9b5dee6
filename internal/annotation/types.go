// Package annotation defines the closed vocabulary of ticket annotations and
// turns a repaired model response into exactly one well-formed Annotation.
package annotation

import "slices"

// ErrorLabel is the sentinel value written to every label field when
// extraction fails. Sentinel rows are kept in the output.
const ErrorLabel = "Error"

// FailedSummary is the summary carried by a sentinel annotation.
const FailedSummary = "Analysis failed"

// Defaults substituted for missing keys.
const (
	DefaultSentiment = "Neutral"
	DefaultUrgency   = "Medium"
	DefaultCategory  = "Other"
	DefaultSummary   = "No summary generated"
)

// Field names as they appear in model responses and output columns.
const (
	FieldSentiment = "sentiment"
	FieldUrgency   = "urgency"
	FieldCategory  = "category"
	FieldSummary   = "summary"
)

// Annotation is the structured result extracted for one ticket.
type Annotation struct {
	Sentiment string `json:"sentiment"`
	Urgency   string `json:"urgency"`
	Category  string `json:"category"`
	Summary   string `json:"summary"`
}

// Failed returns the sentinel annotation.
func Failed() Annotation {
	return Annotation{
		Sentiment: ErrorLabel,
		Urgency:   ErrorLabel,
		Category:  ErrorLabel,
		Summary:   FailedSummary,
	}
}

// IsError reports whether a is a sentinel failure row.
func (a Annotation) IsError() bool {
	return a.Sentiment == ErrorLabel
}

// Vocabulary is the closed set of accepted labels per field.
type Vocabulary struct {
	Sentiments []string
	Urgencies  []string
	Categories []string
}

// DefaultVocabulary returns the labels used by the support-ticket prompts.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Sentiments: []string{"Negative", "Neutral", "Positive"},
		Urgencies:  []string{"High", "Medium", "Low"},
		Categories: []string{
			"Billing",
			"Login Issue",
			"Feature Request",
			"Bug Report",
			"Technical Issue",
			"Account Management",
			"Payment Issue",
			"Other",
		},
	}
}

// Contains reports whether a is a valid annotation under v.
func (v Vocabulary) Contains(a Annotation) bool {
	return slices.Contains(v.Sentiments, a.Sentiment) &&
		slices.Contains(v.Urgencies, a.Urgency) &&
		slices.Contains(v.Categories, a.Category)
}
