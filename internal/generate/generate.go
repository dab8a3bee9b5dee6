// Package generate builds prompts for synthetic support tickets and cleans the
// text the model returns.
package generate

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Catalog is the pool a ticket's product, issue and tone are drawn from.
type Catalog struct {
	Products []string `yaml:"products"`
	Issues   []string `yaml:"issues"`
	Tones    []string `yaml:"tones"`
}

// DefaultCatalog returns the built-in product, issue and tone lists.
func DefaultCatalog() Catalog {
	return Catalog{
		Products: []string{
			"CloudSync Pro",
			"FinanceManager SaaS",
			"StreamFlix Subscription",
			"HomeSecurity Hub",
			"GymFlow App",
			"OfficeSuite 365",
			"DataBackup Pro",
			"EmailShield Security",
			"ProjectFlow Manager",
			"CustomerCRM Platform",
		},
		Issues: []string{
			"login problems", "billing dispute", "feature request",
			"bug report", "account deletion", "performance issues",
			"subscription renewal", "data sync error", "mobile app crash",
			"payment failure", "account setup", "password reset",
			"invoice discrepancy", "feature not working", "slow performance",
		},
		Tones: []string{
			"frustrated", "neutral", "happy", "confused",
			"angry", "urgent", "satisfied", "disappointed",
		},
	}
}

// Validate reports an empty list.
func (c Catalog) Validate() error {
	switch {
	case len(c.Products) == 0:
		return fmt.Errorf("catalog has no products")
	case len(c.Issues) == 0:
		return fmt.Errorf("catalog has no issues")
	case len(c.Tones) == 0:
		return fmt.Errorf("catalog has no tones")
	}
	return nil
}

// Pick is one random draw from a Catalog.
type Pick struct {
	Product string
	Issue   string
	Tone    string
}

// Pick draws a product, issue and tone uniformly. The catalog must be valid.
func (c Catalog) Pick(rng *rand.Rand) Pick {
	return Pick{
		Product: c.Products[rng.IntN(len(c.Products))],
		Issue:   c.Issues[rng.IntN(len(c.Issues))],
		Tone:    c.Tones[rng.IntN(len(c.Tones))],
	}
}

// Prompt renders the generation prompt for p.
func (p Pick) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a realistic customer support ticket for '%s' about '%s'.\n", p.Product, p.Issue)
	fmt.Fprintf(&b, "The customer should sound %s.\n", p.Tone)
	b.WriteString("Include specific details like error messages, account IDs, timestamps, or feature names.\n")
	b.WriteString("Make it 2-3 sentences maximum.\n")
	b.WriteString("Return ONLY the ticket text without any explanations or formatting.\n")
	return b.String()
}

const (
	minLineLen  = 15
	keepLines   = 2
	fallbackLen = 150
)

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

	noisePrefixes = []string{"Sure", "Here", "```", "**", "==="}
	labelPrefixes = []string{"customer", "subject"}
)

// Clean reduces a raw model response to ticket text. Preamble, markdown and
// label lines are dropped and the first two remaining lines are joined. When
// nothing survives, the first 150 characters of the response are used.
// The result is NFC-normalized and may be empty.
func Clean(raw string) string {
	text := strings.TrimSpace(thinkBlock.ReplaceAllString(raw, ""))

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !keepLine(line) {
			continue
		}
		kept = append(kept, line)
		if len(kept) == keepLines {
			break
		}
	}

	out := strings.Join(kept, " ")
	if len(kept) == 0 {
		out = truncate(text, fallbackLen)
	}
	return norm.NFC.String(out)
}

func keepLine(line string) bool {
	if utf8.RuneCountInString(line) <= minLineLen {
		return false
	}
	for _, p := range noisePrefixes {
		if strings.HasPrefix(line, p) {
			return false
		}
	}
	lower := strings.ToLower(line)
	for _, p := range labelPrefixes {
		if strings.HasPrefix(lower, p) {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
