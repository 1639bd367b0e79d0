package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/kalambet/errsheet/internal/api"
	"github.com/kalambet/errsheet/internal/auth"
	"github.com/kalambet/errsheet/internal/config"
	"github.com/kalambet/errsheet/internal/form"
	"github.com/kalambet/errsheet/internal/retention"
	"github.com/kalambet/errsheet/internal/sheets"
	"github.com/kalambet/errsheet/internal/storage"
	"github.com/kalambet/errsheet/internal/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the errsheet server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running errsheet server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show errsheet status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve the MCP tool over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "errsheet.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseDuration(key, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", value, "default", fallback)
		return fallback
	}
	return d
}

// parseRetention accepts "0" to disable pruning.
func parseRetention(value string) time.Duration {
	if strings.TrimSpace(value) == "0" {
		return 0
	}
	return parseDuration("storage.retention", value, 720*time.Hour)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// logPresence records which credentials are configured, never their values.
func logPresence(cfg config.Config) {
	presence := config.Presence(cfg)
	keys := make([]string, 0, len(presence))
	for k := range presence {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		slog.Debug("config value", "key", k, "present", presence[k])
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "errsheet version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg.Log.Level)
	logPresence(cfg)

	secrets := config.NewKeychain()

	// Ensure API token exists in platform secret store.
	apiToken, err := config.GetAPIToken(secrets)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("errsheet is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("errsheet is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	provider, err := auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Server.RedirectURL(),
	}, auth.NewSecretTokenStore(secrets), openBrowser)
	if err != nil {
		return fmt.Errorf("initializing sign-in: %w", err)
	}
	signInTimeout := parseDuration("auth.signin_timeout", cfg.Auth.SignInTimeout, 3*time.Minute)
	gate := auth.NewGate(provider)
	gate.SetSignInTimeout(signInTimeout)

	sheetsClient, err := sheets.New(ctx, cfg.Google.APIKey, option.WithTokenSource(provider))
	if err != nil {
		return err
	}

	submitTimeout := parseDuration("submit.timeout", cfg.Submit.Timeout, 60*time.Second)
	newView := func() api.View {
		views := form.NewSync()
		wf := workflow.New(gate, sheetsClient, views, cfg.Google)
		wf.SetSubmissionLog(store)
		wf.SetTimeout(submitTimeout)
		return api.View{Workflow: wf, Sync: views}
	}
	direct := newView().Workflow

	// An attempt pending longer than sign-in plus append can take was cut
	// short by a crash or restart.
	pruner := retention.NewWorker(store, parseRetention(cfg.Storage.Retention), signInTimeout+submitTimeout+time.Minute, time.Hour)
	go pruner.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Page:    newView(),
		Direct:  direct,
		Session: gate,
		Auth:    provider,
		Store:   store,
		Token:   apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Workflow: direct,
			Store:    store,
			Session:  gate,
		}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "errsheet listening on http://%s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	if !gate.SignedIn() {
		slog.Info("not signed in, open the form to sign in", "url", "http://"+addr+"/")
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("errsheet is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop errsheet (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to errsheet (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still report which values are missing.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	running := err == nil && resp.StatusCode == http.StatusOK
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case running:
		printStatus("Server", "running on http://127.0.0.1:%d", cfg.Server.Port)
	default:
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}
	if resp != nil {
		resp.Body.Close()
	}

	printStatus("Spreadsheet", "%s", cfg.Google.SpreadsheetID)
	printStatus("Range", "%s", cfg.Google.AppendRange())

	if running {
		if c, err := newAPIClient(); err == nil {
			c.httpClient = client
			if signedIn, err := sessionStatus(ctx, c); err == nil {
				printStatus("Signed in", "%v", signedIn)
			}
			if counts, err := submissionCounts(ctx, c); err == nil {
				printStatus("Submissions", "%d appended, %d failed, %d pending",
					counts[storage.StatusAppended], counts[storage.StatusFailed], counts[storage.StatusPending])
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
