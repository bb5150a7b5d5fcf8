package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/computemarket/cmkt/internal/config"
	"github.com/computemarket/cmkt/internal/tui"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive dashboard",
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	if !isDaemonRunning(apiAddr) {
		if !isLocal(apiAddr) {
			return fmt.Errorf("daemon not reachable at %s", apiAddr)
		}
		fmt.Println("⚡ cmkt daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	app := tui.New(apiAddr, actingAs, token)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isDaemonRunning(addr string) bool {
	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return true
}

// isLocal reports whether addr points at this machine, where a daemon can
// be started on demand.
func isLocal(addr string) bool {
	u, err := url.Parse(addr)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "127.0.0.1", "localhost", "::1":
		return true
	}
	return false
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	u, err := url.Parse(apiAddr)
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, "daemon", "--config", configPath, "--listen", u.Host)
	if actingAs != "" {
		// Only used if the database is new.
		cmd.Args = append(cmd.Args, "--authority", actingAs)
	}
	configureDaemonProc(cmd)

	if err := os.MkdirAll(config.HomeDir(), 0o700); err != nil {
		return err
	}
	logFile, err := os.OpenFile(filepath.Join(config.HomeDir(), "daemon.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer logFile.Close()
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ { // Wait up to 5 seconds
		if isDaemonRunning(apiAddr) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s (see %s)", apiAddr, filepath.Join(config.HomeDir(), "daemon.log"))
}
