// ABOUTME: Entry point for the coven-broker message broker.
// ABOUTME: Subcommands: serve, init, status.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-broker/internal/broker"
	"github.com/2389/coven-broker/internal/client"
	"github.com/2389/coven-broker/internal/config"
)

// version is overridden at build time via -ldflags.
var version = "dev"

const banner = `
                                _               _
  ___ _____   _____ _ __       | |__  _ __ ___ | | _____ _ __
 / __/ _ \ \ / / _ \ '_ \ _____| '_ \| '__/ _ \| |/ / _ \ '__|
| (_| (_) \ V /  __/ | | |_____| |_) | | | (_) |   <  __/ |
 \___\___/ \_/ \___|_| |_|     |_.__/|_|  \___/|_|\_\___|_|
`

// getConfigPath returns the path to the broker config file.
// Priority: COVEN_BROKER_CONFIG env var > XDG_CONFIG_HOME/coven/broker.yaml > ~/.config/coven/broker.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_BROKER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "broker.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "broker.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-broker <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the broker server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  status   Query a running broker for its status snapshot")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "status":
		err = runStatus()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Listen:  %s\n", cfg.Addr())
	green.Print("    ▶ ")
	fmt.Printf("PID:     %s\n", cfg.Server.PIDFile)
	fmt.Println()

	logger.Info("starting coven-broker",
		"config", configPath,
		"addr", cfg.Addr(),
	)

	srv, err := broker.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating broker: %w", err)
	}

	return srv.Run(ctx)
}

func runStatus() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c, err := client.Dial(cfg.Addr())
	if err != nil {
		return err
	}
	defer c.Close()

	snap, err := c.Status()
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	cyan := color.New(color.FgCyan)
	cyan.Println("Broker Status")
	cyan.Println("-------------")
	fmt.Printf("Status:              %s\n", snap.Status)
	fmt.Printf("Protocol version:    %d\n", snap.ProtocolVersion)
	fmt.Printf("Agents registered:   %d\n", snap.AgentsRegistered)
	fmt.Printf("Agents connected:    %d\n", snap.AgentsConnected)
	fmt.Printf("Messages processed:  %d\n", snap.MessagesProcessed)
	fmt.Printf("Uptime:              %.0fs\n", snap.UptimeSeconds)
	fmt.Printf("Throughput:          %.2f msg/s\n", snap.Throughput)
	fmt.Printf("Memory:              %.1f MiB\n", snap.MemoryUsageMB)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-broker configuration setup")
	fmt.Println("================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	host := prompt(reader, "Listen host", config.DefaultHost)
	port := prompt(reader, "Listen port", "9999")
	pidFile := prompt(reader, "PID file path", filepath.Join(os.TempDir(), "coven-broker.pid"))

	fmt.Println("\n--- Agent Configuration ---")
	heartbeatTimeout := prompt(reader, "Heartbeat timeout", "30s")
	rosterPath := prompt(reader, "Roster file (TOML, empty for built-in roster)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json/color)", "text")

	var cfg strings.Builder
	cfg.WriteString("# coven-broker configuration\n")
	cfg.WriteString("# Generated by coven-broker init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  host: %q\n", host))
	cfg.WriteString(fmt.Sprintf("  port: %s\n", port))
	cfg.WriteString(fmt.Sprintf("  pid_file: %q\n", pidFile))
	cfg.WriteString("  poll_timeout: \"1s\"\n")
	cfg.WriteString("  shutdown_grace: \"5s\"\n")
	cfg.WriteString("  report_interval: \"60s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("agents:\n")
	cfg.WriteString(fmt.Sprintf("  heartbeat_timeout: %q\n", heartbeatTimeout))
	if rosterPath != "" {
		cfg.WriteString(fmt.Sprintf("  roster_path: %q\n", rosterPath))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the broker:")
	fmt.Println("  coven-broker serve")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
