package sequence

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var (
	htmlTag = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	// blockTag marks output laid out with HTML rather than newlines.
	blockTag = regexp.MustCompile(`(?i)<(p|br|li|ul|ol|div|h[1-6]|table|tr)\b[^>]*/?>`)

	subjectRe   = regexp.MustCompile(`(?i)Subject:\s*(.+)`)
	objectiveRe = regexp.MustCompile(`(?i)Objective:\s*(.+)`)
	ctaRe       = regexp.MustCompile(`(?i)CTA:\s*(.+)`)
	keyPointsRe = regexp.MustCompile(`(?is)Key Points:\s*(.+?)(?:Tone:|$)`)
	toneRe      = regexp.MustCompile(`(?i)Tone:\s*(.+)`)

	audienceRe = regexp.MustCompile(`(?is)TARGET AUDIENCE:\s*(.*?)\n\s*PAIN POINTS:`)
	painsRe    = regexp.MustCompile(`(?is)PAIN POINTS:\s*(.*?)\n\s*PRIMARY GOAL:`)
	goalRe     = regexp.MustCompile(`(?i)PRIMARY GOAL:\s*([\w-]+)`)
	toneOfRe   = regexp.MustCompile(`(?i)TONE OF VOICE:\s*([\w-]+)`)

	variantLabels = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^\s*Variant B:\s*(.+)`),
		regexp.MustCompile(`(?im)^\s*B:\s*(.+)`),
		regexp.MustCompile(`(?im)^\s*Alternative:\s*(.+)`),
		regexp.MustCompile(`(?im)^\s*Subject:\s*(.+)`),
	}

	boldRe     = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe   = regexp.MustCompile(`\*(.*?)\*`)
	leadStars  = regexp.MustCompile(`^\s*\*\*\s*`)
	trailStars = regexp.MustCompile(`\s*\*\*\s*$`)
	quotesRe   = regexp.MustCompile(`^["']|["']$`)
)

// normalize makes HTML-formatted completions parseable. Output laid out
// with block elements is converted to markdown; otherwise inline tags are
// dropped so the line structure the markers rely on survives.
func normalize(content string) string {
	if !htmlTag.MatchString(content) {
		return content
	}
	if !blockTag.MatchString(content) {
		return htmlTag.ReplaceAllString(content, "")
	}
	md, err := htmltomarkdown.ConvertString(content)
	if err != nil {
		slog.Debug("html conversion failed, stripping tags", "error", err)
		return htmlTag.ReplaceAllString(content, "")
	}
	return md
}

func stripMarkdown(s string) string {
	s = boldRe.ReplaceAllString(s, "$1")
	s = italicRe.ReplaceAllString(s, "$1")
	s = leadStars.ReplaceAllString(s, "")
	s = trailStars.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func clean(match []string, fallback string) string {
	if len(match) < 2 {
		return fallback
	}
	if s := stripMarkdown(match[1]); s != "" {
		return s
	}
	return fallback
}

// ParseEmail extracts an email from model output. Missing sections are
// replaced with placeholder text; parsing never fails.
func ParseEmail(content string, n int) Email {
	content = normalize(content)

	subject := clean(subjectRe.FindStringSubmatch(content), fmt.Sprintf("Email %d Subject", n))
	objective := clean(objectiveRe.FindStringSubmatch(content), "Brief purpose")
	cta := clean(ctaRe.FindStringSubmatch(content), "Call to action")
	keyPoints := clean(keyPointsRe.FindStringSubmatch(content), "Key points")
	tone := clean(toneRe.FindStringSubmatch(content), "Style note")

	if keyPoints == "Key points" || keyPoints == "**" {
		keyPoints = "Highlight key benefits and features"
	}

	return Email{
		EmailNumber: n,
		Subject:     subject,
		Body:        FormatBody(objective, keyPoints, cta, tone),
	}
}

// FormatBody lays out the email sections as the body text.
func FormatBody(objective, keyPoints, cta, tone string) string {
	return "🎯 " + objective + "\n\n📝 " + keyPoints + "\n\n🚀 " + cta + "\n\n💬 " + tone
}

// ParseAutofill extracts inferred form fields. Unknown goals and tones fall
// back to demo-booking and professional.
func ParseAutofill(content string) Autofill {
	content = normalize(content)
	first := func(re *regexp.Regexp) string {
		if m := re.FindStringSubmatch(content); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
		return ""
	}
	return Autofill{
		TargetAudience: first(audienceRe),
		PainPoints:     first(painsRe),
		PrimaryGoal:    normalizeChoice(first(goalRe), Goals, "demo-booking"),
		ToneOfVoice:    normalizeChoice(first(toneOfRe), Tones, "professional"),
	}
}

// ParseVariant extracts the alternative subject line from model output.
func ParseVariant(content string) (string, error) {
	v := stripMarkdown(normalize(content))
	v = strings.TrimSpace(quotesRe.ReplaceAllString(v, ""))
	for _, re := range variantLabels {
		if m := re.FindStringSubmatch(v); len(m) > 1 {
			v = strings.TrimSpace(quotesRe.ReplaceAllString(strings.TrimSpace(m[1]), ""))
			break
		}
	}
	if v == "" {
		return "", ErrEmptyVariant
	}
	return v, nil
}
