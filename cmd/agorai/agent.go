package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/agorai/agorai/internal/agentconfig"
	"github.com/agorai/agorai/internal/agentloop"
	"github.com/agorai/agorai/internal/logging"
	"github.com/agorai/agorai/internal/modelcaller"
)

func runAgent(args []string) error {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	cfg := agentconfig.DefineFlags(fs)
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logging.PrintBanner("agent", version, cfg.BridgeURL)

	client := agentloop.NewHTTPClient(http.DefaultClient, cfg.BridgeURL, cfg.AgentKey)
	adapter := agentloop.ModelAdapter{Options: modelcaller.Options{
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		APIKey:   cfg.ModelAPIKey,
	}}

	loop := agentloop.New(agentloop.Options{
		Client:       client,
		Adapter:      adapter,
		AgentID:      cfg.AgentKey,
		AgentName:    cfg.AgentKey,
		Mode:         cfg.Mode,
		PollInterval: cfg.PollInterval,
		SystemPrompt: cfg.SystemPrompt,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return loop.Run(ctx)
}
