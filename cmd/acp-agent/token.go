// ABOUTME: The token subcommand, which mints agent JWTs from the operator secret
// ABOUTME: Prints the signed token on stdout so it can be captured into ACP_JWT

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/2389/acp-hive/internal/auth"
	"github.com/2389/acp-hive/internal/config"
)

const defaultTokenTTL = 24 * time.Hour

func runToken(args []string) error {
	flags, err := parseFlags(args, []string{"hive", "role", "pid", "ttl", "issued-by", "publish", "subscribe", "out"})
	if err != nil {
		return err
	}

	hive := flags.Get("hive", "")
	role := flags.Get("role", "")
	if hive == "" || role == "" {
		return errors.New("--hive and --role are required")
	}
	ttl, err := flags.Duration("ttl", defaultTokenTTL)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	secret, err := operatorSecret()
	if err != nil {
		return err
	}

	token, err := auth.NewIssuer(secret).Issue(auth.TokenRequest{
		Hive:      hive,
		Role:      role,
		PID:       flags.Get("pid", ""),
		ExpiresIn: ttl,
		Publish:   flags.List("publish"),
		Subscribe: flags.List("subscribe"),
		IssuedBy:  flags.Get("issued-by", ""),
	})
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	out := flags.Get("out", "")
	if out == "" {
		fmt.Println(token)
		return nil
	}

	if err := os.WriteFile(out, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green := color.New(color.FgGreen)
	green.Fprintf(os.Stderr, "  ✓ Saved token: %s\n", out)
	fmt.Fprintf(os.Stderr, "  Namespace: %s\n", auth.NamespaceFor(hive, role))
	fmt.Fprintf(os.Stderr, "  Expires:   %s\n", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return nil
}

// operatorSecret prefers ACP_OPERATOR_SECRET and falls back to the config file.
func operatorSecret() (string, error) {
	if s := os.Getenv("ACP_OPERATOR_SECRET"); s != "" {
		return s, nil
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("ACP_OPERATOR_SECRET not set and config unavailable: %w", err)
	}
	if cfg.Auth.OperatorSecret == "" {
		return "", fmt.Errorf("operator_secret not configured in %s", configPath)
	}
	return cfg.Auth.OperatorSecret, nil
}
