package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/errsheet/internal/api"
	"github.com/kalambet/errsheet/internal/config"
	"github.com/kalambet/errsheet/internal/report"
	"github.com/kalambet/errsheet/internal/storage"
	"github.com/kalambet/errsheet/internal/workflow"
)

// submitWait covers an interactive sign-in plus the append.
const submitWait = 5 * time.Minute

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an error report",
	Long: `Submit an error report through the running server.

Evidence is chosen in this order: --paste, --screenshot, --url. Only the
file name of a screenshot is recorded.

Examples:
  errsheet submit --title "Login button broken" --type "UI Bug" --url http://example.com/x
  errsheet submit --title "Slow search" --type "Performance Issue" --screenshot ./search.png
  errsheet submit --title "Crash on save" --type "Functional Error" --paste /tmp/clipboard.png`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		errorType, _ := cmd.Flags().GetString("type")
		description, _ := cmd.Flags().GetString("description")
		screenshot, _ := cmd.Flags().GetString("screenshot")
		url, _ := cmd.Flags().GetString("url")
		paste, _ := cmd.Flags().GetString("paste")

		req, err := buildSubmitRequest(title, errorType, description, screenshot, url, paste)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.httpClient.Timeout = submitWait

		printStep("Submitting report...")
		resp, err := submitReport(cmd.Context(), client, req)
		if err != nil {
			return err
		}

		printSuccess("Report appended to %s", resp.UpdatedRange)
		printStatus("Submission", "%s", resp.ID)
		return nil
	},
}

func init() {
	submitCmd.Flags().String("title", "", "short summary of the error")
	submitCmd.Flags().String("type", "", "error type ("+strings.Join(report.ErrorTypes, ", ")+")")
	submitCmd.Flags().String("description", "", "what happened")
	submitCmd.Flags().String("screenshot", "", "path to a screenshot (only its name is recorded)")
	submitCmd.Flags().String("url", "", "evidence URL")
	submitCmd.Flags().String("paste", "", "path to an image to submit as a pasted screenshot")
}

func buildSubmitRequest(title, errorType, description, screenshot, url, paste string) (api.SubmitRequest, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(errorType) == "" {
		return api.SubmitRequest{}, errors.New(workflow.MissingFieldMessage)
	}

	req := api.SubmitRequest{
		Title:       title,
		ErrorType:   errorType,
		Description: description,
		EvidenceURL: url,
	}

	if screenshot != "" {
		if _, err := os.Stat(screenshot); err != nil {
			return api.SubmitRequest{}, fmt.Errorf("screenshot: %w", err)
		}
		req.Screenshot = filepath.Base(screenshot)
	}

	if paste != "" {
		data, err := os.ReadFile(paste)
		if err != nil {
			return api.SubmitRequest{}, fmt.Errorf("reading pasted image: %w", err)
		}
		contentType := mime.TypeByExtension(filepath.Ext(paste))
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		req.PastedImage = &api.PastedUpload{
			Name:        filepath.Base(paste),
			ContentType: contentType,
			Data:        base64.StdEncoding.EncodeToString(data),
		}
	}

	return req, nil
}

func submitReport(ctx context.Context, c *apiClient, req api.SubmitRequest) (api.SubmitResponse, error) {
	resp, err := c.post(ctx, "/api/submit", req)
	if err != nil {
		return api.SubmitResponse{}, err
	}
	var out api.SubmitResponse
	if err := decodeJSON(resp, &out); err != nil {
		return api.SubmitResponse{}, err
	}
	return out, nil
}

// --- signin / signout ---

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in to Google",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		signedIn, authURL, err := startSignIn(cmd.Context(), client)
		if err != nil {
			return err
		}
		if signedIn {
			printSuccess("Already signed in")
			return nil
		}

		printStep("Opening %s", authURL)
		openBrowser(cmd.Context(), authURL)

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := waitForSession(ctx, client, time.Second); err != nil {
			return err
		}
		printSuccess("Signed in")
		return nil
	},
}

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Forget the stored Google session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/api/session")
		if err != nil {
			return err
		}
		var out map[string]bool
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Signed out")
		return nil
	},
}

func init() {
	signinCmd.Flags().Duration("timeout", 3*time.Minute, "how long to wait for the browser sign-in")
}

func sessionStatus(ctx context.Context, c *apiClient) (bool, error) {
	resp, err := c.get(ctx, "/api/session")
	if err != nil {
		return false, err
	}
	var out struct {
		SignedIn bool `json:"signed_in"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return false, err
	}
	return out.SignedIn, nil
}

func startSignIn(ctx context.Context, c *apiClient) (bool, string, error) {
	resp, err := c.post(ctx, "/api/session/signin", nil)
	if err != nil {
		return false, "", err
	}
	var out struct {
		SignedIn bool   `json:"signed_in"`
		AuthURL  string `json:"auth_url"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return false, "", err
	}
	return out.SignedIn, out.AuthURL, nil
}

// waitForSession polls the server until the browser flow completes.
func waitForSession(ctx context.Context, c *apiClient, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		signedIn, err := sessionStatus(ctx, c)
		if err != nil && ctx.Err() == nil {
			return err
		}
		if signedIn {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("sign-in did not complete: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent submission attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		subs, err := listSubmissions(cmd.Context(), client, limit)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			fmt.Println("No submissions found.")
			return nil
		}
		printHistory(os.Stdout, subs)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single submission attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/submissions/"+args[0])
		if err != nil {
			return err
		}

		var sub storage.Submission
		if err := decodeJSON(resp, &sub); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sub)
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of submissions to list")
	historyCmd.AddCommand(historyShowCmd)
}

func listSubmissions(ctx context.Context, c *apiClient, limit int) ([]storage.Submission, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/api/submissions?limit=%d", limit))
	if err != nil {
		return nil, err
	}
	var subs []storage.Submission
	if err := decodeJSON(resp, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func submissionCounts(ctx context.Context, c *apiClient) (map[string]int, error) {
	resp, err := c.get(ctx, "/api/submissions/counts")
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	if err := decodeJSON(resp, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func printHistory(w io.Writer, subs []storage.Submission) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range subs {
		detail := s.UpdatedRange
		if s.Status == storage.StatusFailed {
			detail = s.Error
		}
		if len(detail) > 80 {
			detail = detail[:80] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			colorize(colorCyan, shortID(s.ID)),
			s.CreatedAt.Local().Format(time.DateTime),
			colorize(statusColor(s.Status), s.Status),
			s.EvidenceKind,
			detail,
		)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
