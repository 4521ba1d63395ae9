package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/raaihank/case-sentinel/internal/privacy"
	"github.com/raaihank/case-sentinel/internal/redaction"
	"github.com/spf13/cobra"
)

type previewOptions struct {
	contentType string
	relevancy   int
	asJSON      bool
}

func (p *previewOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.contentType, "type", string(redaction.General),
		"content type: timeline_event, court_hearing, document_summary or general")
	cmd.Flags().IntVar(&p.relevancy, "relevancy", -1, "relevancy score (0-1000); omitted means none")
	cmd.Flags().BoolVar(&p.asJSON, "json", false, "print the full result as JSON")
}

func (p *previewOptions) metadata() map[string]any {
	if p.relevancy < 0 {
		return nil
	}
	return map[string]any{redaction.RelevancyKey: p.relevancy}
}

// readText takes the text from the arguments, or from stdin when the only
// argument is "-" or there are none.
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return strings.TrimRight(string(b), "\n"), nil
	}
	return strings.Join(args, " "), nil
}

func newFilterCmd(opts *globalOptions) *cobra.Command {
	preview := &previewOptions{}
	cmd := &cobra.Command{
		Use:   "filter [text | -]",
		Short: "redact text with the configured patterns and aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			svc, err := opts.localServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Cleanup()

			result := svc.Engine.Filter(text, redaction.ParseContentType(preview.contentType), preview.metadata(), svc.Settings.Get())
			if preview.asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Text)
			if result.Event != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "redacted %.2f%% (%d patterns, %d aliases)\n",
					result.Event.RedactionPercentage, len(result.Event.Patterns), len(result.Event.Aliases))
			}
			return nil
		},
	}
	preview.bind(cmd)
	return cmd
}

func newEvaluateCmd(opts *globalOptions) *cobra.Command {
	preview := &previewOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate [text | -]",
		Short: "decide whether text would be accepted for public review",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			svc, err := opts.localServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Cleanup()

			relevancy := preview.relevancy
			if relevancy < 0 {
				relevancy = 0
			}
			decision := svc.Evaluator.Evaluate(text, redaction.ParseContentType(preview.contentType),
				preview.metadata(), relevancy, svc.Settings.Get())
			if preview.asJSON {
				return writeJSON(cmd.OutOrStdout(), decision)
			}

			out := cmd.OutOrStdout()
			if decision.Safe {
				fmt.Fprintln(out, "ACCEPT")
			} else {
				fmt.Fprintf(out, "REJECT: %s\n", decision.Reason)
			}
			fmt.Fprintf(out, "retained: %.2f\n", decision.RetainedRatio)
			if decision.Filtered != "" {
				fmt.Fprintln(out, decision.Filtered)
			}
			return nil
		},
	}
	preview.bind(cmd)
	return cmd
}

func newPatternsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "list the pattern registry in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			registry, err := privacy.NewRegistry(cfg.Redaction.CustomPatterns)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "registry version %s\n", privacy.RegistryVersion)
			table := newTable(cmd.OutOrStdout(), []string{"#", "name", "category", "placeholder", "description"})
			for i, p := range registry.Patterns() {
				table.Append([]string{fmt.Sprint(i + 1), p.Name, string(p.Category), p.Placeholder, p.Description})
			}
			table.Render()
			return nil
		},
	}
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(header)
	return table
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

