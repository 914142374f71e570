package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agorai/agorai/bridge"
	"github.com/agorai/agorai/internal/auth"
	"github.com/agorai/agorai/internal/logging"
	"github.com/agorai/agorai/internal/store"
)

func runBridge(args []string) error {
	fs := flag.NewFlagSet("bridge", flag.ExitOnError)
	addr := fs.String("addr", ":8787", "listen address")
	dataDir := fs.String("data-dir", defaultBridgeDataDir(), "data directory")
	salt := fs.String("salt", "", "HMAC salt for API key hashing (operator-chosen, kept secret)")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	logging.PrintBanner("bridge", version, *addr)

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
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Serve(ctx)
}

// keyRosterEntry is the on-disk shape of one agent's static roster
// entry, loaded by the bridge operator ahead of time.
type keyRosterEntry struct {
	Token          string   `json:"token"`
	AgentName      string   `json:"agentName"`
	Type           string   `json:"type"`
	Capabilities   []string `json:"capabilities"`
	ClearanceLevel string   `json:"clearanceLevel"`
}

// loadKeyRoster reads the operator-maintained API key roster from path.
// A missing file yields an empty roster — the bridge still runs, but no
// external caller can authenticate until the operator populates it.
func loadKeyRoster(path string) ([]auth.KeyEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var raw []keyRosterEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	entries := make([]auth.KeyEntry, 0, len(raw))
	for _, r := range raw {
		entries = append(entries, auth.KeyEntry{
			Token:          r.Token,
			AgentName:      r.AgentName,
			Type:           r.Type,
			Capabilities:   r.Capabilities,
			ClearanceLevel: store.ParseClearance(r.ClearanceLevel),
		})
	}
	return entries, nil
}

func defaultBridgeDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "agorai", "bridge")
	}
	return filepath.Join(home, ".config", "agorai", "bridge")
}
