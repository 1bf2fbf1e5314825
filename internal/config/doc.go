// Package config handles configuration loading for acp-agent.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML when the file name ends in
// .toml) with environment variable expansion. Load applies defaults and
// validates the result.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ACP_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/acp/agent.yaml
//  3. ~/.config/acp/agent.yaml
//
// # Environment Variable Expansion
//
// Secrets are usually injected from the environment:
//
//	auth:
//	  jwt_token: "${ACP_JWT}"
//	  operator_secret: "${ACP_OPERATOR_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Agent identity and timing:
//
//	agent:
//	  id: "agent-a"                          # no dots or wildcards
//	  role: "ai-assistant"                   # default ai-assistant
//	  namespace: "account.alice.ai-assistant"
//	  timeout: "30s"                         # default step wait, must be > 0
//
// Broker:
//
//	broker:
//	  url: "nats://localhost:4222"  # or mem://<name> for an in-process hive
//	  name: "acp-agent-a"           # defaults to agent.id
//
// Authentication:
//
//	auth:
//	  jwt_token: "${ACP_JWT}"        # empty runs in development mode
//	  operator_secret: "${ACP_OPERATOR_SECRET}"
//	  require_auth: true             # refuse development mode
//
// Mission ledger:
//
//	store:
//	  path: "~/.local/share/acp/missions.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Validation failures wrap ErrInvalidConfig and are never retried.
package config
