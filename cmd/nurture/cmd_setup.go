package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/talkxo/sequence-email/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Nurture Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.BaseURL = prompt(scanner, "API base URL", cfg.LLM.BaseURL)

		// Up to four keys; each blank answer keeps the existing slot.
		keys := append([]string(nil), cfg.LLM.APIKeys...)
		for i := range 4 {
			current := ""
			if i < len(keys) {
				current = keys[i]
			}
			shown := ""
			if current != "" {
				shown = "***" + current[max(0, len(current)-4):]
			}
			v := prompt(scanner, fmt.Sprintf("API key %d (optional)", i+1), shown)
			if v == shown {
				v = current
			}
			for len(keys) <= i {
				keys = append(keys, "")
			}
			keys[i] = v
		}
		for len(keys) > 0 && keys[len(keys)-1] == "" {
			keys = keys[:len(keys)-1]
		}
		cfg.LLM.APIKeys = keys

		cfg.LLM.Referer = prompt(scanner, "Site URL for attribution (optional)", cfg.LLM.Referer)
		cfg.Listen = prompt(scanner, "Listen address", cfg.Listen)

		maxTokensStr := prompt(scanner, "Max output tokens", strconv.Itoa(cfg.Generation.MaxTokens))
		if n, err := strconv.Atoi(maxTokensStr); err == nil {
			cfg.Generation.MaxTokens = n
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
