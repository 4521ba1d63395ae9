package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raaihank/case-sentinel/internal/audit"
	"github.com/raaihank/case-sentinel/internal/server"
	"github.com/spf13/cobra"
)

type auditOptions struct {
	fromRedis bool
}

func newAuditCmd(opts *globalOptions) *cobra.Command {
	aopts := &auditOptions{}
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "inspect or clear the redaction and rejection audit logs",
	}
	cmd.PersistentFlags().BoolVar(&aopts.fromRedis, "redis", false,
		"use the Redis audit mirror directly instead of the admin API")

	cmd.AddCommand(newAuditListCmd(opts, aopts), newAuditClearCmd(opts, aopts))
	return cmd
}

func newAuditListCmd(opts *globalOptions, aopts *auditOptions) *cobra.Command {
	var (
		kind   string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list audit events, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "redactions" && kind != "rejections" {
				return fmt.Errorf("--kind must be redactions or rejections")
			}
			redactions, rejections, err := fetchAudit(cmd.Context(), opts, aopts, kind, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if kind == "redactions" {
				if asJSON {
					return writeJSON(out, redactions)
				}
				printRedactions(out, redactions)
				return nil
			}
			if asJSON {
				return writeJSON(out, rejections)
			}
			printRejections(out, rejections)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "redactions", "redactions or rejections")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON")
	return cmd
}

func newAuditClearCmd(opts *globalOptions, aopts *auditOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "permanently delete every audit event",
		Long: `
Deletes every redaction and rejection event. This cannot be undone. Without
--force you are asked to type CLEAR to confirm.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted; audit log unchanged.")
					return nil
				}
			}

			if aopts.fromRedis {
				mirror, err := openMirror(opts)
				if err != nil {
					return err
				}
				defer mirror.Close()
				if err := mirror.Clear(cmd.Context()); err != nil {
					return err
				}
			} else {
				q := url.Values{"confirm": {server.ClearConfirmation}}
				if err := apiCall(cmd.Context(), opts, http.MethodDelete, "/api/audit?"+q.Encode(), nil); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Audit log cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	return cmd
}

// confirm asks the operator to type the confirmation word
func confirm(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprintf(out, "This permanently deletes the audit log. Type %s to confirm: ", server.ClearConfirmation)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	return strings.TrimSpace(scanner.Text()) == server.ClearConfirmation, nil
}

func fetchAudit(ctx context.Context, opts *globalOptions, aopts *auditOptions, kind string, limit int) ([]audit.RedactionEvent, []audit.RejectionEvent, error) {
	if aopts.fromRedis {
		mirror, err := openMirror(opts)
		if err != nil {
			return nil, nil, err
		}
		defer mirror.Close()

		redactions, rejections, err := mirror.Load(ctx)
		if err != nil {
			return nil, nil, err
		}
		return truncate(redactions, limit), truncate(rejections, limit), nil
	}

	path := fmt.Sprintf("/api/audit/%s?limit=%d", kind, limit)
	if kind == "rejections" {
		var page struct {
			Events []audit.RejectionEvent `json:"events"`
		}
		if err := apiCall(ctx, opts, http.MethodGet, path, &page); err != nil {
			return nil, nil, err
		}
		return nil, page.Events, nil
	}

	var page struct {
		Events []audit.RedactionEvent `json:"events"`
	}
	if err := apiCall(ctx, opts, http.MethodGet, path, &page); err != nil {
		return nil, nil, err
	}
	return page.Events, nil, nil
}

func openMirror(opts *globalOptions) (*audit.RedisMirror, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := opts.newLogger()
	if err != nil {
		return nil, err
	}
	return audit.NewRedisMirror(cfg.Audit.Redis, cfg.Audit.RedactionCap, cfg.Audit.RejectionCap, log)
}

// apiCall performs an admin API request and decodes the JSON response into
// out when out is non-nil.
func apiCall(ctx context.Context, opts *globalOptions, method, path string, out any) error {
	if opts.token == "" {
		if _, err := opts.loadConfig(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(opts.server, "/")+path, nil)
	if err != nil {
		return err
	}
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("admin API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("admin API: %s", apiErr.Error)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func truncate[T any](events []T, limit int) []T {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}

func printRedactions(w io.Writer, events []audit.RedactionEvent) {
	table := newTable(w, []string{"time", "id", "type", "removed", "patterns"})
	for _, e := range events {
		removed := fmt.Sprintf("%.2f%%", e.RedactionPercentage)
		if e.Suppressed {
			removed = "suppressed"
		}
		var parts []string
		for _, p := range e.Patterns {
			parts = append(parts, fmt.Sprintf("%s×%d", p.PatternName, p.Count))
		}
		for _, a := range e.Aliases {
			parts = append(parts, fmt.Sprintf("alias:%s×%d", a.Role, a.Count))
		}
		table.Append([]string{e.Timestamp.Local().Format(time.DateTime), e.ID, e.ContentType, removed, strings.Join(parts, ", ")})
	}
	table.Render()
}

func printRejections(w io.Writer, events []audit.RejectionEvent) {
	table := newTable(w, []string{"time", "id", "reason", "preview"})
	for _, e := range events {
		table.Append([]string{e.Timestamp.Local().Format(time.DateTime), e.ID, e.Reason, e.ContentPreview})
	}
	table.Render()
}
