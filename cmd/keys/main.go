// keys administers signing keys from the command line:
//
//	keys list     print every stored key and its status
//	keys rotate   make a fresh key active and retire the current one
//	keys jwks     print the published JWKS document
//	keys prune    delete retired keys past their grace window
//
// It talks to the configured key store directly, so it needs the same KEY_STORE
// settings as the server. Running servers pick up a rotation on their next reload.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"saas-auth-core/internal/app"
	"saas-auth-core/internal/config"
	"saas-auth-core/internal/db"
	"saas-auth-core/internal/keys"
	"saas-auth-core/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}

	var database *db.DB
	if cfg.KeyStore == config.KeyStoreDatabase {
		if database, err = app.OpenDatabase(cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer database.Close()
	}
	store, closeStore, err := app.OpenKeyStore(cfg, database)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = closeStore() }()

	m := keys.NewManager(store, keys.Options{Bits: cfg.RSAKeyBits, RetireGrace: cfg.RetireGrace(), Logger: logger})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, m, os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "keys:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, m *keys.Manager, cmd string) error {
	// The manager falls back to an ephemeral key when the store is unreachable;
	// nothing done against that key would persist.
	list, err := m.Keys(ctx)
	if err != nil {
		return err
	}
	if m.Degraded() {
		return errors.New("key store unavailable")
	}
	switch cmd {
	case "list":
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KID\tSTATUS\tCREATED\tRETIRED")
		for _, k := range list {
			retired := "-"
			if k.RetiredAt != nil {
				retired = k.RetiredAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.KID, k.Status, k.CreatedAt.Format(time.RFC3339), retired)
		}
		return w.Flush()
	case "rotate":
		rot, err := m.Rotate(ctx)
		if err != nil {
			return err
		}
		if rot.Old != nil {
			fmt.Printf("rotated: %s -> %s\n", rot.Old.KID, rot.New.KID)
		} else {
			fmt.Printf("created: %s\n", rot.New.KID)
		}
		return nil
	case "jwks":
		set, err := m.JWKS(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(set)
	case "prune":
		n, err := m.Prune(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d key(s)\n", n)
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keys list|rotate|jwks|prune")
}
