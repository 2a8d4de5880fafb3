package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/talkxo/sequence-email/internal/dispatch"
	"github.com/talkxo/sequence-email/internal/prompt"
	"golang.org/x/sync/errgroup"
)

// Dispatcher sends one generation request upstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (string, error)
}

// Options tunes generation. Zero values take the defaults.
type Options struct {
	MaxTokens   int
	Temperature float32
	Retry       *RetryPolicy
	// VariantConcurrency caps parallel A/B generations.
	VariantConcurrency int
}

const (
	autofillMaxTokens   = 200
	autofillTemperature = 0.3
	variantMaxTokens    = 60
	variantTemperature  = 0.8
)

// Generator produces emails, variants and autofill suggestions.
type Generator struct {
	dispatcher Dispatcher
	prompts    *prompt.Engine
	opts       Options
}

// NewGenerator creates a Generator. A nil prompt engine uses approximate
// token counts.
func NewGenerator(d Dispatcher, prompts *prompt.Engine, opts Options) *Generator {
	if prompts == nil {
		prompts = prompt.New(nil)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 120
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.3
	}
	if opts.Retry == nil {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.VariantConcurrency <= 0 {
		opts.VariantConcurrency = 3
	}
	return &Generator{dispatcher: d, prompts: prompts, opts: opts}
}

// GenerateSequence generates form.NumberOfEmails emails one at a time, since
// each prompt lists the subjects generated before it. A failed email is
// retried per the retry policy; if it still fails the whole run fails.
func (g *Generator) GenerateSequence(ctx context.Context, form FormData) ([]Email, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}

	emails := make([]Email, 0, form.NumberOfEmails)
	for n := 1; n <= form.NumberOfEmails; n++ {
		slog.Info("generating email", "email", n, "total", form.NumberOfEmails)

		var email Email
		err := g.opts.Retry.Execute(ctx, func(attempt int) error {
			e, err := g.GenerateEmail(ctx, form, n, emails)
			if err != nil {
				slog.Warn("email attempt failed", "email", n, "attempt", attempt, "error", err)
				return err
			}
			email = e
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("generate email %d after %d attempts: %w", n, g.opts.Retry.MaxAttempts, err)
		}
		emails = append(emails, email)
	}

	slog.Info("sequence generated", "emails", len(emails))
	return emails, nil
}

// GenerateEmail generates email n given the emails already in the sequence.
func (g *Generator) GenerateEmail(ctx context.Context, form FormData, n int, previous []Email) (Email, error) {
	if strings.TrimSpace(form.ProductDescription) == "" {
		return Email{}, fmt.Errorf("%w: product description is required", ErrInvalidForm)
	}
	if n < 1 {
		return Email{}, fmt.Errorf("%w: email number must be positive", ErrInvalidForm)
	}

	prev := make([]prompt.PreviousEmail, len(previous))
	for i, e := range previous {
		prev[i] = prompt.PreviousEmail{Number: e.EmailNumber, Subject: e.Subject}
	}
	p, err := g.prompts.Email(prompt.EmailData{
		Number:     n,
		Product:    form.ProductDescription,
		Audience:   form.TargetAudience,
		PainPoints: form.PainPoints,
		Goal:       form.PrimaryGoal,
		Tone:       form.ToneOfVoice,
		Previous:   prev,
	})
	if err != nil {
		return Email{}, err
	}

	content, err := g.dispatch(ctx, p, g.opts.MaxTokens, g.opts.Temperature)
	if err != nil {
		return Email{}, err
	}
	return ParseEmail(content, n), nil
}

// Autofill infers audience, pain points, goal and tone from a description.
func (g *Generator) Autofill(ctx context.Context, description string) (Autofill, error) {
	description = strings.TrimSpace(description)
	if len(description) < MinDescriptionLength {
		return Autofill{}, ErrDescriptionTooShort
	}
	p, err := g.prompts.Autofill(description, Goals, Tones)
	if err != nil {
		return Autofill{}, err
	}
	content, err := g.dispatch(ctx, p, autofillMaxTokens, autofillTemperature)
	if err != nil {
		return Autofill{}, err
	}
	return ParseAutofill(content), nil
}

// GenerateVariant produces an A/B pair for subject, keeping it as variant A.
func (g *Generator) GenerateVariant(ctx context.Context, subject string, form FormData) (ABVariants, error) {
	if strings.TrimSpace(subject) == "" {
		return ABVariants{}, fmt.Errorf("%w: original subject is required", ErrInvalidForm)
	}
	p, err := g.prompts.Variant(prompt.VariantData{
		Subject: subject,
		Product: form.ProductDescription,
		Goal:    form.PrimaryGoal,
		Tone:    form.ToneOfVoice,
	})
	if err != nil {
		return ABVariants{}, err
	}
	content, err := g.dispatch(ctx, p, variantMaxTokens, variantTemperature)
	if err != nil {
		return ABVariants{}, err
	}
	b, err := ParseVariant(content)
	if err != nil {
		return ABVariants{}, err
	}
	return ABVariants{VariantA: subject, VariantB: b}, nil
}

// GenerateVariants attaches A/B subjects to every email concurrently. Emails
// whose variant fails are returned without one.
func (g *Generator) GenerateVariants(ctx context.Context, form FormData, emails []Email) []Email {
	out := make([]Email, len(emails))
	copy(out, emails)

	var eg errgroup.Group
	eg.SetLimit(g.opts.VariantConcurrency)
	for i := range out {
		eg.Go(func() error {
			v, err := g.GenerateVariant(ctx, out[i].Subject, form)
			if err != nil {
				slog.Warn("variant generation failed", "email", out[i].EmailNumber, "error", err)
				return nil
			}
			out[i].ABVariants = &v
			return nil
		})
	}
	eg.Wait()
	return out
}

func (g *Generator) dispatch(ctx context.Context, p string, maxTokens int, temperature float32) (string, error) {
	return g.dispatcher.Dispatch(ctx, dispatch.Request{
		Prompt:        p,
		MaxTokens:     maxTokens,
		Temperature:   temperature,
		ContextLength: g.prompts.ContextHint(p, maxTokens),
	})
}
