package sequence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmail(t *testing.T) {
	content := `Subject: Welcome to BudgetPro!
Objective: Introduce the app
CTA: Start your free trial
Key Points: Track expenses, Save time
Tone: Friendly and upbeat`

	email := ParseEmail(content, 1)
	assert.Equal(t, 1, email.EmailNumber)
	assert.Equal(t, "Welcome to BudgetPro!", email.Subject)
	assert.Equal(t, "🎯 Introduce the app\n\n📝 Track expenses, Save time\n\n🚀 Start your free trial\n\n💬 Friendly and upbeat", email.Body)
}

func TestParseEmailStripsMarkdown(t *testing.T) {
	content := "**Subject:** Grab your deal\n**Objective:** *Drive* sales\nCTA: **Buy now**\nKey Points: Fast\nTone: Urgent"

	email := ParseEmail(content, 2)
	assert.Equal(t, "Grab your deal", email.Subject)
	assert.Contains(t, email.Body, "🎯 Drive sales")
	assert.Contains(t, email.Body, "🚀 Buy now")
}

func TestParseEmailFallbacks(t *testing.T) {
	email := ParseEmail("the model rambled without any markers", 3)
	assert.Equal(t, "Email 3 Subject", email.Subject)
	assert.Equal(t, "🎯 Brief purpose\n\n📝 Highlight key benefits and features\n\n🚀 Call to action\n\n💬 Style note", email.Body)
}

func TestParseEmailKeyPointsEcho(t *testing.T) {
	email := ParseEmail("Subject: Hi\nKey Points: **\nTone: calm", 1)
	assert.Contains(t, email.Body, "📝 Highlight key benefits and features")
}

func TestParseEmailMultilineKeyPoints(t *testing.T) {
	content := "Subject: Hi\nKey Points:\n- Saves time\n- Costs less\nTone: calm"
	email := ParseEmail(content, 1)
	assert.Contains(t, email.Body, "📝 - Saves time\n- Costs less\n\n🚀")
}

func TestParseEmailHTML(t *testing.T) {
	content := "<p><strong>Subject:</strong> Hello there</p><p>CTA: Book now</p>"
	email := ParseEmail(content, 1)
	assert.Equal(t, "Hello there", email.Subject)
	assert.Contains(t, email.Body, "🚀 Book now")
}

func TestParseEmailInlineTagKeepsSections(t *testing.T) {
	content := "Subject: Meet <b>BudgetPro</b> today\nObjective: Introduce the product\nCTA: Start free trial\nKey Points: Fast setup\nTone: friendly"
	email := ParseEmail(content, 1)
	assert.Equal(t, "Meet BudgetPro today", email.Subject)
	assert.Equal(t, FormatBody("Introduce the product", "Fast setup", "Start free trial", "friendly"), email.Body)
}

func TestParseAutofill(t *testing.T) {
	content := `TARGET AUDIENCE: Freelance designers who juggle many clients.
PAIN POINTS: late invoices, messy books, tax stress
PRIMARY GOAL: Trial-Conversion
TONE OF VOICE: witty`

	got := ParseAutofill(content)
	assert.Equal(t, "Freelance designers who juggle many clients.", got.TargetAudience)
	assert.Equal(t, "late invoices, messy books, tax stress", got.PainPoints)
	assert.Equal(t, "trial-conversion", got.PrimaryGoal)
	assert.Equal(t, "professional", got.ToneOfVoice)
}

func TestParseAutofillEmpty(t *testing.T) {
	got := ParseAutofill("")
	assert.Equal(t, Autofill{PrimaryGoal: "demo-booking", ToneOfVoice: "professional"}, got)
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"Save 50% on your first month"`, "Save 50% on your first month"},
		{"**Variant B:** Don't miss your savings", "Don't miss your savings"},
		{"Alternative: Your budget, sorted", "Your budget, sorted"},
		{"Here you go:\nSubject: 'Last call for savings'", "Last call for savings"},
		{"Web: Launch day is here", "Web: Launch day is here"},
	}
	for _, tt := range tests {
		got, err := ParseVariant(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseVariantEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", `""`} {
		_, err := ParseVariant(in)
		assert.True(t, errors.Is(err, ErrEmptyVariant), "input %q", in)
	}
}
