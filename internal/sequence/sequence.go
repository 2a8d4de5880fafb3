// Package sequence generates nurture email sequences through the dispatch
// layer and parses the model output into emails.
package sequence

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	// ErrInvalidForm is returned when form data fails validation.
	ErrInvalidForm = errors.New("invalid form data")
	// ErrDescriptionTooShort is returned by Autofill for descriptions under
	// MinDescriptionLength characters.
	ErrDescriptionTooShort = errors.New("please provide a more descriptive product/service description")
	// ErrEmptyVariant is returned when the model produced no usable subject.
	ErrEmptyVariant = errors.New("generated variant B is empty")
)

const (
	MaxEmails            = 10
	MinDescriptionLength = 12
	// SingleTimeout bounds one email, one variant or one autofill call.
	SingleTimeout = 15 * time.Second
)

// Goals lists the supported primary goals.
var Goals = []string{
	"demo-booking",
	"onboarding",
	"purchase",
	"trial-conversion",
	"newsletter-signup",
	"webinar-registration",
	"consultation-booking",
}

// Tones lists the supported tones of voice.
var Tones = []string{
	"professional",
	"friendly",
	"casual",
	"persuasive",
	"conversational",
	"authoritative",
}

// FormData describes the product and campaign a sequence is generated for.
type FormData struct {
	ProductDescription string `json:"productDescription" yaml:"productDescription"`
	TargetAudience     string `json:"targetAudience" yaml:"targetAudience"`
	PainPoints         string `json:"painPoints" yaml:"painPoints"`
	PrimaryGoal        string `json:"primaryGoal" yaml:"primaryGoal"`
	ToneOfVoice        string `json:"toneOfVoice" yaml:"toneOfVoice"`
	NumberOfEmails     int    `json:"numberOfEmails" yaml:"numberOfEmails"`
}

// DefaultForm returns the form defaults: purchase goal, friendly tone, five emails.
func DefaultForm() FormData {
	return FormData{PrimaryGoal: "purchase", ToneOfVoice: "friendly", NumberOfEmails: 5}
}

// Validate checks the fields a full sequence run requires.
func (f FormData) Validate() error {
	if strings.TrimSpace(f.ProductDescription) == "" {
		return fmt.Errorf("%w: product description is required", ErrInvalidForm)
	}
	if f.NumberOfEmails < 1 || f.NumberOfEmails > MaxEmails {
		return fmt.Errorf("%w: number of emails must be between 1 and %d", ErrInvalidForm, MaxEmails)
	}
	return nil
}

// SequenceTimeout is the budget for generating n emails: 20s per email with a
// 60s floor.
func SequenceTimeout(n int) time.Duration {
	return max(60*time.Second, time.Duration(n)*20*time.Second)
}

// ABVariants is a pair of subject lines for an A/B test.
type ABVariants struct {
	VariantA string `json:"variantA"`
	VariantB string `json:"variantB"`
}

// Email is one generated email of a sequence.
type Email struct {
	EmailNumber int         `json:"emailNumber"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	ABVariants  *ABVariants `json:"abVariants,omitempty"`
}

// Autofill holds the form fields inferred from a product description.
type Autofill struct {
	TargetAudience string `json:"targetAudience"`
	PainPoints     string `json:"painPoints"`
	PrimaryGoal    string `json:"primaryGoal"`
	ToneOfVoice    string `json:"toneOfVoice"`
}

func normalizeChoice(v string, allowed []string, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if slices.Contains(allowed, v) {
		return v
	}
	return fallback
}
