// Package agentconfig defines the flag-based configuration surface for
// the `agorai agent` binary, the same plain flag.FlagSet approach
// leapmux's internal/hub/config and worker/config use (no koanf/viper
// anywhere in this codebase).
package agentconfig

import (
	"flag"
	"fmt"
	"time"
)

// Mode selects how the run-loop decides whether to reply to a message.
type Mode string

const (
	// ModePassive replies only to messages that @-mention the agent.
	ModePassive Mode = "passive"
	// ModeActive replies to every unread message it is allowed to see.
	ModeActive Mode = "active"
)

// Config holds the agent run-loop's runtime configuration.
type Config struct {
	BridgeURL    string
	AgentKey     string
	Model        string
	Endpoint     string
	ModelAPIKey  string
	Mode         Mode
	PollInterval time.Duration
	SystemPrompt string

	modeFlag   *string
	pollMsFlag *int
}

// DefineFlags registers the `agorai agent` flags on fs. Call fs.Parse()
// and then Finalize() before using the returned Config.
func DefineFlags(fs *flag.FlagSet) *Config {
	c := &Config{}
	fs.StringVar(&c.BridgeURL, "bridge", "http://localhost:8787", "bridge server URL")
	fs.StringVar(&c.AgentKey, "key", "", "bearer token identifying this agent to the bridge")
	fs.StringVar(&c.Model, "model", "", "model name passed to the chat-completions endpoint")
	fs.StringVar(&c.Endpoint, "endpoint", "", "OpenAI-compatible chat-completions base URL")
	fs.StringVar(&c.ModelAPIKey, "api-key", "", "API key for the model endpoint, if required")
	c.modeFlag = fs.String("mode", string(ModePassive), "reply mode: passive or active")
	c.pollMsFlag = fs.Int("poll", 3000, "poll interval in milliseconds")
	fs.StringVar(&c.SystemPrompt, "system", "", "system prompt prepended to every model call")
	return c
}

// Finalize converts the raw flag values into typed fields. Call after
// fs.Parse() has run.
func (c *Config) Finalize() {
	if c.modeFlag != nil {
		c.Mode = Mode(*c.modeFlag)
	}
	if c.pollMsFlag != nil {
		c.PollInterval = time.Duration(*c.pollMsFlag) * time.Millisecond
	}
}

// Validate checks the configuration for completeness and well-formedness.
func (c *Config) Validate() error {
	if c.BridgeURL == "" {
		return fmt.Errorf("bridge URL is required")
	}
	if c.AgentKey == "" {
		return fmt.Errorf("agent key is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Mode != ModePassive && c.Mode != ModeActive {
		return fmt.Errorf("mode must be %q or %q, got %q", ModePassive, ModeActive, c.Mode)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}
