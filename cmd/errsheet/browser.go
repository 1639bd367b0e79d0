package main

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"
)

// openBrowser shows authURL in the user's browser. The URL is always
// logged so a headless user can copy it.
func openBrowser(_ context.Context, authURL string) error {
	slog.Info("sign in to Google to continue", "url", authURL)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", authURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", authURL)
	default:
		cmd = exec.Command("xdg-open", authURL)
	}

	if err := cmd.Start(); err != nil {
		slog.Warn("could not open a browser, open the URL manually", "error", err)
		return nil
	}
	go cmd.Wait()
	return nil
}
