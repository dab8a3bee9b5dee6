package generate

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "drops preamble and joins two lines",
			raw: "Sure! Here is a ticket:\n\n" +
				"My CloudSync Pro account stopped syncing at 09:14 today.\n" +
				"Error code SYNC-502 keeps appearing on every retry.\n" +
				"Please help me urgently with this.",
			want: "My CloudSync Pro account stopped syncing at 09:14 today. Error code SYNC-502 keeps appearing on every retry.",
		},
		{
			name: "drops labels and markdown",
			raw: "**Ticket**\nSubject: Billing issue here\nCustomer: Jane Doe, account 4411\n" +
				"```\nI was charged twice for my StreamFlix plan this month.\n```",
			want: "I was charged twice for my StreamFlix plan this month.",
		},
		{
			name: "drops short lines",
			raw:  "Hello team,\nThe GymFlow app crashes when I open the schedule tab.",
			want: "The GymFlow app crashes when I open the schedule tab.",
		},
		{
			name: "strips reasoning block",
			raw:  "<think>\nThe user wants a ticket about login problems.\n</think>\nI cannot log in to OfficeSuite 365 since the last update.",
			want: "I cannot log in to OfficeSuite 365 since the last update.",
		},
		{
			name: "falls back to raw prefix",
			raw:  "Short one.",
			want: "Short one.",
		},
		{
			name: "empty",
			raw:  "   ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.raw))
		})
	}
}

func TestClean_FallbackTruncates(t *testing.T) {
	raw := "Here " + strings.Repeat("x", 300)
	got := Clean(raw)
	assert.Equal(t, 150, len([]rune(got)))
	assert.True(t, strings.HasPrefix(got, "Here "))
}

func TestClean_NFC(t *testing.T) {
	// "e" followed by a combining acute accent.
	raw := "The invoice for cafe\u0301 premium was wrong on March 3rd."
	assert.Equal(t, "The invoice for caf\u00e9 premium was wrong on March 3rd.", Clean(raw))
}

func TestCatalogPick(t *testing.T) {
	c := DefaultCatalog()
	require.NoError(t, c.Validate())

	rng := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		p := c.Pick(rng)
		assert.Contains(t, c.Products, p.Product)
		assert.Contains(t, c.Issues, p.Issue)
		assert.Contains(t, c.Tones, p.Tone)
	}
}

func TestCatalogValidate(t *testing.T) {
	c := DefaultCatalog()
	c.Tones = nil
	assert.ErrorContains(t, c.Validate(), "tones")
}

func TestPrompt(t *testing.T) {
	p := Pick{Product: "HomeSecurity Hub", Issue: "password reset", Tone: "angry"}.Prompt()
	assert.Contains(t, p, "'HomeSecurity Hub' about 'password reset'")
	assert.Contains(t, p, "sound angry")
	assert.Contains(t, p, "Return ONLY the ticket text")
}
