package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talkxo/sequence-email/internal/canvas"
)

var canvasOutput string

func init() {
	canvasExportCmd.Flags().StringVarP(&canvasOutput, "output", "o", "", "write to this file instead of stdout")
	canvasMermaidCmd.Flags().StringVarP(&canvasOutput, "output", "o", "", "write to this file instead of stdout")
	canvasCmd.AddCommand(canvasExportCmd, canvasMermaidCmd)
	rootCmd.AddCommand(canvasCmd)
}

var canvasCmd = &cobra.Command{
	Use:   "canvas",
	Short: "Work with saved workflow canvas documents",
}

var canvasExportCmd = &cobra.Command{
	Use:   "export <document.json>",
	Short: "Convert a saved canvas into the flat export format",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		editor, err := openCanvas(args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(editor.Export(), "", "  ")
		if err != nil {
			return fmt.Errorf("encode export: %w", err)
		}
		return writeOutput(append(data, '\n'))
	},
}

var canvasMermaidCmd = &cobra.Command{
	Use:   "mermaid <document.json>",
	Short: "Render a saved canvas as a Mermaid flowchart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		editor, err := openCanvas(args[0])
		if err != nil {
			return err
		}
		out, err := editor.Mermaid()
		if err != nil {
			return err
		}
		return writeOutput([]byte(out))
	},
}

func openCanvas(path string) (*canvas.Editor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read canvas: %w", err)
	}
	editor := canvas.NewEditor()
	if err := editor.Load(data); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return editor, nil
}

func writeOutput(data []byte) error {
	if canvasOutput == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(canvasOutput, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", canvasOutput, err)
	}
	fmt.Fprintln(os.Stderr, "Wrote", canvasOutput)
	return nil
}
