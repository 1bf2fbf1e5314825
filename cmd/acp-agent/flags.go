// ABOUTME: Minimal flag parsing shared by the acp-agent subcommands
// ABOUTME: Accepts both "--name value" and "--name=value" forms

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// flagValues holds parsed --name values keyed by name without dashes.
type flagValues map[string]string

// parseFlags parses args against the allowed flag names. Boolean flags listed
// in switches take no value and are stored as "true".
func parseFlags(args []string, allowed []string, switches ...string) (flagValues, error) {
	known := make(map[string]bool, len(allowed)+len(switches))
	for _, name := range allowed {
		known[name] = false
	}
	for _, name := range switches {
		known[name] = true
	}

	values := make(flagValues)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		isSwitch, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}

		switch {
		case isSwitch && hasValue:
			return nil, fmt.Errorf("--%s does not take a value", name)
		case isSwitch:
			value = "true"
		case !hasValue:
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		values[name] = value
	}
	return values, nil
}

func (f flagValues) Get(name, def string) string {
	if v, ok := f[name]; ok {
		return v
	}
	return def
}

func (f flagValues) Int(name string, def int) (int, error) {
	v, ok := f[name]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return n, nil
}

func (f flagValues) Duration(name string, def time.Duration) (time.Duration, error) {
	v, ok := f[name]
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}

// List splits a comma separated flag, dropping empty entries.
func (f flagValues) List(name string) []string {
	var out []string
	for _, item := range strings.Split(f[name], ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
