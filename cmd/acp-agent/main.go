// ABOUTME: Entry point for acp-agent, a coordination group participant
// ABOUTME: Runs missions, mints tokens and checks broker connectivity

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

	"github.com/2389/acp-hive/internal/auth"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                 _
  __ _  ___ _ __         __ _  __ _  ___ _ __ | |_
 / _' |/ __| '_ \ _____ / _' |/ _' |/ _ \ '_ \| __|
| (_| | (__| |_) |_____| (_| | (_| |  __/ | | | |_
 \__,_|\___| .__/       \__,_|\__, |\___|_| |_|\__|
           |_|                |___/
`

// getConfigPath returns the path to the agent config file.
// Priority: ACP_CONFIG env var > XDG_CONFIG_HOME/acp/agent.yaml > ~/.config/acp/agent.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ACP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "acp", "agent.yaml")
}

// getDataPath returns the path to the acp data directory.
// Priority: XDG_DATA_HOME/acp > ~/.local/share/acp
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "acp")
}

func usage() {
	fmt.Println("Usage: acp-agent <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run [--members a,b] [--mission ID] [--steps N]  Create or join a mission and run steps")
	fmt.Println("  token --hive HIVE --role ROLE [--pid PID]        Mint an agent token")
	fmt.Println("  health                                           Check broker connectivity")
	fmt.Println("  init                                             Create a new config file interactively")
	fmt.Println("  version                                          Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runMission(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("acp-agent configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "missions.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Agent Configuration ---")
	agentID := prompt(reader, "Agent ID", "agent-a")
	hive := prompt(reader, "Hive (account)", "alice")
	role := prompt(reader, "Role", "ai-assistant")
	timeout := prompt(reader, "Default step timeout", "30s")

	fmt.Println("\n--- Broker Configuration ---")
	brokerURL := prompt(reader, "Broker URL (nats:// or mem://)", "nats://localhost:4222")

	fmt.Println("\n--- Authentication ---")
	useAuth := isYes(prompt(reader, "Enforce namespace security with a JWT?", "yes"))

	fmt.Println("\n--- Mission Ledger ---")
	dbPath := prompt(reader, "SQLite database path (none to disable)", defaultDbPath)

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# acp-agent configuration\n")
	cfg.WriteString("# Generated by acp-agent init\n\n")

	cfg.WriteString("agent:\n")
	cfg.WriteString(fmt.Sprintf("  id: \"%s\"\n", agentID))
	cfg.WriteString(fmt.Sprintf("  role: \"%s\"\n", role))
	cfg.WriteString(fmt.Sprintf("  namespace: \"%s\"\n", auth.NamespaceFor(hive, role)))
	cfg.WriteString(fmt.Sprintf("  timeout: \"%s\"\n", timeout))
	cfg.WriteString("\n")

	cfg.WriteString("broker:\n")
	cfg.WriteString(fmt.Sprintf("  url: \"%s\"\n", brokerURL))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	if useAuth {
		cfg.WriteString("  jwt_token: \"${ACP_JWT}\"\n")
		cfg.WriteString("  operator_secret: \"${ACP_OPERATOR_SECRET}\"\n")
		cfg.WriteString("  require_auth: true\n")
	} else {
		cfg.WriteString("  require_auth: false\n")
	}
	cfg.WriteString("\n")

	if dbPath != "none" {
		cfg.WriteString("store:\n")
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	if useAuth {
		fmt.Println("\nMint a token and export it before starting:")
		fmt.Printf("  export ACP_JWT=$(acp-agent token --hive %s --role %s --pid %s)\n", hive, role, agentID)
	}
	fmt.Println("\nTo start the agent:")
	fmt.Printf("  acp-agent run --members agent-b,agent-c\n")

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
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}
