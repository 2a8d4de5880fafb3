package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/talkxo/sequence-email/internal/sequence"
)

func init() {
	rootCmd.AddCommand(autofillCmd)
}

var autofillCmd = &cobra.Command{
	Use:   "autofill <product description>",
	Short: "Suggest audience, pain points, goal and tone for a product",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		desc := strings.Join(args, " ")
		if len(strings.TrimSpace(desc)) < sequence.MinDescriptionLength {
			return sequence.ErrDescriptionTooShort
		}

		p, err := buildPipeline(cfg, nil)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sequence.SingleTimeout)
		defer cancel()

		fill, err := p.generator.Autofill(ctx, desc)
		if err != nil {
			return fmt.Errorf("autofill: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Target audience\t%s\n", fill.TargetAudience)
		fmt.Fprintf(w, "Pain points\t%s\n", fill.PainPoints)
		fmt.Fprintf(w, "Primary goal\t%s\n", fill.PrimaryGoal)
		fmt.Fprintf(w, "Tone of voice\t%s\n", fill.ToneOfVoice)
		return w.Flush()
	},
}
