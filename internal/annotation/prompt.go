package annotation

import (
	"fmt"
	"strings"
)

// maxTicketRunes bounds how much of a ticket is sent to the model.
const maxTicketRunes = 500

const promptTemplate = `Analyze this customer support ticket and return ONLY valid JSON without any other text.

REQUIRED JSON FORMAT:
{
  "sentiment": %s,
  "urgency": %s,
  "category": %s,
  "summary": "One-sentence summary of the issue"
}

TICKET TEXT: "%s"`

// BuildPrompt renders the annotation prompt for a ticket, listing the
// accepted labels of v.
func BuildPrompt(text string, v Vocabulary) string {
	return fmt.Sprintf(promptTemplate,
		alternatives(v.Sentiments),
		alternatives(v.Urgencies),
		alternatives(v.Categories),
		truncate(strings.TrimSpace(text), maxTicketRunes),
	)
}

// alternatives renders `"A", "B", or "C"`.
func alternatives(labels []string) string {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = `"` + l + `"`
	}
	switch len(quoted) {
	case 0:
		return `""`
	case 1:
		return quoted[0]
	case 2:
		return quoted[0] + " or " + quoted[1]
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + ", or " + quoted[len(quoted)-1]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
