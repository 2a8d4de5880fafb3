package prompt

import (
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts prompt tokens.
type Counter interface {
	Count(text string) int
}

// ApproxCounter estimates four characters per token. It needs no BPE tables.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewCounter returns a tiktoken counter for the named encoding, falling back
// to ApproxCounter when the encoding cannot be loaded.
func NewCounter(encoding string) Counter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		slog.Warn("tokenizer unavailable, using approximate counts", "encoding", encoding, "error", err)
		return ApproxCounter{}
	}
	return &tiktokenCounter{enc: enc}
}

// PreviousEmail is an already generated email referenced by later prompts.
type PreviousEmail struct {
	Number  int
	Subject string
}

// EmailData feeds the email prompt template.
type EmailData struct {
	Number     int
	Product    string
	Audience   string
	PainPoints string
	Goal       string
	Tone       string
	Previous   []PreviousEmail
	Stage      string
}

// VariantData feeds the A/B subject prompt template.
type VariantData struct {
	Subject string
	Product string
	Goal    string
	Tone    string
}

// Engine renders generation prompts and sizes them for model selection.
type Engine struct {
	counter  Counter
	email    *template.Template
	autofill *template.Template
	variant  *template.Template
}

// New creates an Engine. A nil counter uses ApproxCounter.
func New(counter Counter) *Engine {
	if counter == nil {
		counter = ApproxCounter{}
	}
	funcs := template.FuncMap{"join": strings.Join}
	return &Engine{
		counter:  counter,
		email:    template.Must(template.New("email").Parse(emailTemplate)),
		autofill: template.Must(template.New("autofill").Funcs(funcs).Parse(autofillTemplate)),
		variant:  template.Must(template.New("variant").Parse(variantTemplate)),
	}
}

// Email renders the prompt for one email. Blank audience and pain points get
// generic placeholders, and a blank stage is derived from goal and position.
func (e *Engine) Email(d EmailData) (string, error) {
	if strings.TrimSpace(d.Audience) == "" {
		d.Audience = "General audience interested in the product"
	}
	if strings.TrimSpace(d.PainPoints) == "" {
		d.PainPoints = "Common challenges that the product addresses"
	}
	if d.Stage == "" {
		d.Stage = Stage(d.Goal, d.Number)
	}
	return render(e.email, d)
}

// Autofill renders the prompt that infers form fields from a description.
func (e *Engine) Autofill(description string, goals, tones []string) (string, error) {
	return render(e.autofill, struct {
		Description string
		Goals       []string
		Tones       []string
	}{description, goals, tones})
}

// Variant renders the A/B alternative subject prompt.
func (e *Engine) Variant(d VariantData) (string, error) {
	return render(e.variant, d)
}

// ContextHint is the context window a call needs: prompt tokens plus the
// completion budget.
func (e *Engine) ContextHint(prompt string, maxTokens int) int {
	return e.counter.Count(prompt) + maxTokens
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}
