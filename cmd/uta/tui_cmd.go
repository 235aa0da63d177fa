package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/uta/internal/logging"
	"github.com/fentz26/uta/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive TUI",
	RunE:  runTUI,
}

var tuiUser string

func init() {
	tuiCmd.Flags().StringVar(&tuiUser, "user", currentUser(), "User new tasks belong to")
}

func runTUI(cmd *cobra.Command, args []string) error {
	// Logs would draw over the UI.
	if err := logging.EnableFileLogging(cfg.Log.Dir, logging.ParseLevel(cfg.Log.Level)); err != nil {
		logging.Discard()
	}
	defer logging.Close()

	if !isDaemonRunning() {
		fmt.Println("UTA daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	app := tui.New(apiAddr, tuiUser)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isDaemonRunning() bool {
	health, err := CheckHealth()
	return err == nil && health.OK
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"daemon"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(exe, args...)
	// Detach process so it survives TUI exit
	configureDaemonProc(cmd)

	logPath := filepath.Join(cfg.Log.Dir, "daemon.log")
	if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if isDaemonRunning() {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s (see %s)", apiAddr, logPath)
}
