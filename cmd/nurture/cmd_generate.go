package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/talkxo/sequence-email/internal/canvas"
	"github.com/talkxo/sequence-email/internal/sequence"
)

var genFlags struct {
	formFile   string
	product    string
	audience   string
	painPoints string
	goal       string
	tone       string
	emails     int
	ab         bool
	canvasOut  string
	jsonOut    bool
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genFlags.formFile, "form", "", "read form fields from a JSON or YAML file")
	f.StringVarP(&genFlags.product, "product", "p", "", "product description")
	f.StringVar(&genFlags.audience, "audience", "", "target audience")
	f.StringVar(&genFlags.painPoints, "pain-points", "", "customer pain points")
	f.StringVar(&genFlags.goal, "goal", "", "primary goal ("+strings.Join(sequence.Goals, ", ")+")")
	f.StringVar(&genFlags.tone, "tone", "", "tone of voice ("+strings.Join(sequence.Tones, ", ")+")")
	f.IntVarP(&genFlags.emails, "emails", "n", 0, "number of emails (1-10)")
	f.BoolVar(&genFlags.ab, "ab", false, "also generate A/B subject variants for every email")
	f.StringVar(&genFlags.canvasOut, "canvas", "", "write the sequence as a canvas document to this file")
	f.BoolVar(&genFlags.jsonOut, "json", false, "print JSON instead of rendered markdown")
	rootCmd.AddCommand(generateCmd)
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an email nurture sequence",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	form, err := buildForm()
	if err != nil {
		return err
	}
	if err := form.Validate(); err != nil {
		return err
	}

	p, err := buildPipeline(cfg, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sequence.SequenceTimeout(form.NumberOfEmails))
	defer cancel()

	emails, err := p.generator.GenerateSequence(ctx, form)
	if err != nil {
		return fmt.Errorf("generate sequence: %w", err)
	}
	if genFlags.ab {
		emails = p.generator.GenerateVariants(cmd.Context(), form, emails)
	}

	if genFlags.canvasOut != "" {
		if err := writeCanvas(genFlags.canvasOut, emails, form); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Canvas saved to", genFlags.canvasOut)
	}

	if genFlags.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(emails)
	}
	return renderMarkdown(sequenceMarkdown(emails))
}

// buildForm starts from the defaults, applies --form, then the individual
// flags that were set.
func buildForm() (sequence.FormData, error) {
	form := sequence.DefaultForm()
	if genFlags.formFile != "" {
		data, err := os.ReadFile(genFlags.formFile)
		if err != nil {
			return form, fmt.Errorf("read form: %w", err)
		}
		// YAML is a superset of JSON, so one decoder covers both.
		if err := yaml.Unmarshal(data, &form); err != nil {
			return form, fmt.Errorf("parse form %s: %w", genFlags.formFile, err)
		}
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&form.ProductDescription, genFlags.product)
	set(&form.TargetAudience, genFlags.audience)
	set(&form.PainPoints, genFlags.painPoints)
	set(&form.PrimaryGoal, genFlags.goal)
	set(&form.ToneOfVoice, genFlags.tone)
	if genFlags.emails != 0 {
		form.NumberOfEmails = genFlags.emails
	}
	return form, nil
}

func writeCanvas(path string, emails []sequence.Email, form sequence.FormData) error {
	editor := canvas.NewEditor()
	editor.Seed(emails, &form)
	data, err := editor.Save()
	if err != nil {
		return fmt.Errorf("save canvas: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write canvas: %w", err)
	}
	return nil
}

func sequenceMarkdown(emails []sequence.Email) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Nurture sequence (%d emails)\n\n", len(emails))
	for _, e := range emails {
		fmt.Fprintf(&b, "## Email %d: %s\n\n", e.EmailNumber, e.Subject)
		if e.ABVariants != nil {
			fmt.Fprintf(&b, "- **A:** %s\n- **B:** %s\n\n", e.ABVariants.VariantA, e.ABVariants.VariantB)
		}
		b.WriteString(e.Body)
		b.WriteString("\n\n")
	}
	return b.String()
}

func renderMarkdown(md string) error {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		fmt.Print(md)
		return nil
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	fmt.Print(out)
	return nil
}
