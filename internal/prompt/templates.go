package prompt

// emailTemplate renders the prompt for one email of a nurture sequence.
// Fields: EmailData.
const emailTemplate = `Create email {{.Number}} in a logical nurture sequence:

Product: {{.Product}}
Target Audience: {{.Audience}}
Pain Points: {{.PainPoints}}
Primary Goal: {{.Goal}}
Tone: {{.Tone}}
{{- if .Previous}}
Previous emails: {{range $i, $p := .Previous}}{{if $i}}, {{end}}Email {{$p.Number}}: {{$p.Subject}}{{end}}
{{- end}}

This email should: {{.Stage}}

Format your response exactly like this (no markdown formatting, no ** symbols):

Subject: [Compelling subject line - MAX 60 characters, use action words, include emotional triggers]
Objective: [Clear purpose for this email in the sequence]
CTA: [Specific call to action]
Key Points: [2-3 relevant points about benefits, features, or value proposition]
Tone: [{{.Tone}} style note]

IMPORTANT:
- Do NOT use ** or any markdown formatting
- Write clean, plain text only
- Ensure all fields have meaningful content
- Subject line guidelines:
  - Keep under 60 characters
  - Use active voice and action words
  - Include emotional triggers (urgency, benefit, curiosity)
  - Make value proposition clear
  - Avoid spam trigger words
  - Mobile-friendly length

Make it contextual and logical in the sequence.`

const autofillTemplate = `You are a senior lifecycle marketer.
Given the PRODUCT/SERVICE DESCRIPTION below, infer the following fields succinctly:
- TARGET AUDIENCE: a one-paragraph profile
- PAIN POINTS: a concise comma-separated list (5-8 items)
- PRIMARY GOAL: choose one of [{{join .Goals ", "}}]
- TONE OF VOICE: choose one of [{{join .Tones ", "}}]

Return EXACTLY this format:
TARGET AUDIENCE: <paragraph>
PAIN POINTS: <comma-separated list>
PRIMARY GOAL: <one from list>
TONE OF VOICE: <one from list>

PRODUCT/SERVICE DESCRIPTION:
{{.Description}}`

const variantTemplate = `Create an alternative subject line for A/B testing.

Original: "{{.Subject}}"

Product: {{.Product}}
Goal: {{.Goal}}
Tone: {{.Tone}}

Requirements:
- Same meaning, different wording
- Under 60 characters
- Action words and emotional triggers
- Compelling and click-worthy

Respond with only the alternative subject line, no formatting or labels.`

// stages maps a goal to the purpose of each of the first five emails.
var stages = map[string][5]string{
	"purchase": {
		"Welcome email - introduce the product and its main benefits",
		"Educational content - explain how the product solves problems",
		"Social proof - share testimonials or case studies",
		"Urgency/offer - create urgency with limited-time offers",
		"Final push - last chance to purchase with strong CTA",
	},
	"demo-booking": {
		"Welcome email - introduce the product and demo value",
		"Educational content - explain key features and benefits",
		"Social proof - share success stories from demos",
		"Urgency - limited demo slots available",
		"Final reminder - last chance to book your demo",
	},
	"trial-conversion": {
		"Welcome to trial - get started guide",
		"Feature highlights - key features to try",
		"Success tips - how to get the most from trial",
		"Conversion push - benefits of upgrading",
		"Final offer - last chance to convert",
	},
}

// Stage returns the purpose of email n for the given goal. Unknown goals use
// the purchase arc and positions past the fifth reuse the first.
func Stage(goal string, n int) string {
	arc, ok := stages[goal]
	if !ok {
		arc = stages["purchase"]
	}
	if n < 1 || n > len(arc) {
		n = 1
	}
	return arc[n-1]
}
