package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/agorai/agorai/bridge"
	"github.com/agorai/agorai/internal/agentconfig"
	"github.com/agorai/agorai/internal/agentloop"
	"github.com/agorai/agorai/internal/logging"
	"github.com/agorai/agorai/internal/modelcaller"
	"github.com/agorai/agorai/internal/store"
)

// runStandalone starts one bridge server and one bundled agent in the
// same process, the bundled agent driving the store directly through
// agentloop.NewDirectClient — no HTTP round trip, mirroring leapmux's
// all-in-one mode but without a Unix socket handoff (Agorai's run-loop
// has no need for one when it shares the process with its store).
func runStandalone(args []string) error {
	fs := flag.NewFlagSet("agorai", flag.ExitOnError)
	addr := fs.String("addr", ":8787", "TCP listen address")
	dataDir := fs.String("data-dir", defaultStandaloneDataDir(), "data directory")
	salt := fs.String("salt", "", "HMAC salt for API key hashing")
	agentName := fs.String("agent-name", "assistant", "name of the bundled local agent")
	model := fs.String("model", "", "model name for the bundled agent (empty disables it)")
	endpoint := fs.String("endpoint", "", "OpenAI-compatible chat-completions base URL for the bundled agent")
	modelAPIKey := fs.String("api-key", "", "API key for the bundled agent's model endpoint")
	mode := fs.String("mode", string(agentconfig.ModePassive), "bundled agent reply mode: passive or active")
	pollMs := fs.Int("poll", 3000, "bundled agent poll interval in milliseconds")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	logging.PrintBanner("standalone", version, *addr)

	if err := os.MkdirAll(*dataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	keys, err := loadKeyRoster(filepath.Join(*dataDir, "keys.json"))
	if err != nil {
		return fmt.Errorf("load key roster: %w", err)
	}

	server, err := bridge.NewServer(bridge.ServerConfig{
		Addr:    *addr,
		DBPath:  filepath.Join(*dataDir, "agorai.db"),
		Keys:    keys,
		KeySalt: *salt,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("create bridge server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	bridgeErrCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		bridgeErrCh <- server.Serve(ctx)
	}()

	if *model != "" && *endpoint != "" {
		agentID, err := agentloop.RegisterInternal(ctx, server.AuthProvider(), *agentName, store.ClearanceTeam, nil)
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("register bundled agent: %w", err)
		}

		client := agentloop.NewDirectClient(server.Store(), agentID)
		adapter := agentloop.ModelAdapter{Options: modelcaller.Options{
			Endpoint: *endpoint,
			Model:    *model,
			APIKey:   *modelAPIKey,
		}}
		loop := agentloop.New(agentloop.Options{
			Client:       client,
			Adapter:      adapter,
			AgentID:      agentID,
			AgentName:    *agentName,
			Mode:         agentconfig.Mode(*mode),
			PollInterval: time.Duration(*pollMs) * time.Millisecond,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop.Run(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "bundled agent stopped: %v\n", err)
			}
		}()
	}

	select {
	case err := <-bridgeErrCh:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
		wg.Wait()
		return nil
	}
}

func defaultStandaloneDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "agorai")
	}
	return filepath.Join(home, ".config", "agorai")
}
