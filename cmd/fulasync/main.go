package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/functionland/fulasync/internal/logger"
	"github.com/functionland/fulasync/pkg/config"
	"github.com/functionland/fulasync/pkg/crypto/keys"
	"github.com/functionland/fulasync/pkg/metrics"
	"github.com/functionland/fulasync/pkg/share"
	"github.com/functionland/fulasync/pkg/store/state"
	"github.com/functionland/fulasync/pkg/syncer"
	"github.com/functionland/fulasync/pkg/transfer"
	"github.com/functionland/fulasync/pkg/watch"
)

const usage = `fulasync - encrypted file sync daemon

Usage:
  fulasync run [flags]              Run the sync daemon
  fulasync share create [flags]     Share an encrypted object scope
  fulasync share accept [flags]     Accept a received share
  fulasync share revoke [flags]     Revoke a share you created
  fulasync share list               List created and accepted shares

Run 'fulasync <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runDaemon(os.Args[2:])
	case "share":
		runShare(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

// loadConfig loads and applies the logging configuration.
func loadConfig(configPath string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)

	switch cfg.Logging.Output {
	case "stdout", "":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Logging.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		logger.SetOutput(f)
	}

	return cfg
}

// readCredential obtains the key-unlock credential.
//
// Sources, in order: the FULASYNC_PASSPHRASE environment variable, then
// the file named by passphraseFile.
func readCredential(passphraseFile string) []byte {
	if pass := os.Getenv("FULASYNC_PASSPHRASE"); pass != "" {
		return []byte(pass)
	}

	if passphraseFile != "" {
		data, err := os.ReadFile(passphraseFile)
		if err != nil {
			log.Fatalf("Failed to read passphrase file: %v", err)
		}
		return []byte(strings.TrimRight(string(data), "\r\n"))
	}

	log.Fatal("No credential: set FULASYNC_PASSPHRASE or pass -passphrase-file")
	return nil
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	passphraseFile := fs.String("passphrase-file", "", "File containing the key-unlock passphrase")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("fulasync - encrypted file sync daemon")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	// Open the local state store
	store, err := config.CreateStateStore(ctx, &cfg.State)
	if err != nil {
		log.Fatalf("Failed to create state store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("State store close error: %v", err)
		}
	}()

	// Unlock the key provider
	provider := keys.NewProvider(store)
	credential := readCredential(*passphraseFile)
	if err := provider.Unlock(ctx, credential); err != nil {
		log.Fatalf("Failed to unlock keys: %v", err)
	}
	keys.Wipe(credential)
	defer provider.Wipe()

	// Create the object storage client
	objects, err := config.CreateObjectClient(ctx, &cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create object client: %v", err)
	}

	// Create the transfer engine
	engine, err := transfer.NewEngine(objects, store, cfg.Sync.Transfer, metrics.NewTransferMetrics(), nil)
	if err != nil {
		log.Fatalf("Failed to create transfer engine: %v", err)
	}

	// Key resolution uses owned object keys first, accepted shares second
	shares, _ := store.(share.TokenStore)
	resolver, err := syncer.NewKeyResolver(provider, store, shares)
	if err != nil {
		log.Fatalf("Failed to create key resolver: %v", err)
	}

	// Create the durable task queue
	queue, err := syncer.NewQueue(store, engine, resolver, cfg.Sync.Queue, metrics.NewQueueMetrics())
	if err != nil {
		log.Fatalf("Failed to create sync queue: %v", err)
	}

	// Requeue tasks interrupted by a previous shutdown or crash
	restored, err := queue.RestoreQueue(ctx)
	if err != nil {
		log.Fatalf("Failed to restore queue: %v", err)
	}
	if restored > 0 {
		logger.Info("Restored %d interrupted task(s)", restored)
	}

	// Reconcile multipart uploads left behind by earlier runs
	if cleaned, err := engine.CleanupAbandoned(ctx, cfg.Storage.Bucket); err != nil {
		logger.Warn("Multipart cleanup failed: %v", err)
	} else if cleaned > 0 {
		logger.Info("Aborted %d abandoned multipart upload(s)", cleaned)
	}

	// Start directory watchers
	for i := range cfg.Watches {
		w, err := watch.New(cfg.Watches[i], queue)
		if err != nil {
			log.Fatalf("Failed to create watcher for %s: %v", cfg.Watches[i].Dir, err)
		}
		go func(dir string) {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Watcher for %s stopped: %v", dir, err)
			}
		}(cfg.Watches[i].Dir)
		logger.Info("Watching %s -> %s/%s", cfg.Watches[i].Dir, cfg.Watches[i].Bucket, cfg.Watches[i].Prefix)
	}

	// Start the metrics server
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.ServerConfig{Listen: cfg.Metrics.Listen})
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Run the queue workers in background
	queueDone := make(chan error, 1)
	go func() {
		queueDone <- queue.Run(ctx)
	}()

	// Wait for interrupt signal or queue failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Sync daemon is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-queueDone; err != nil && err != context.Canceled {
			logger.Error("Queue shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Sync daemon stopped gracefully")

	case err := <-queueDone:
		if err != nil {
			logger.Error("Queue error: %v", err)
			os.Exit(1)
		}
		logger.Info("Sync daemon stopped")
	}
}

func runShare(args []string) {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch args[0] {
	case "create":
		shareCreate(args[1:])
	case "accept":
		shareAccept(args[1:])
	case "revoke":
		shareRevoke(args[1:])
	case "list":
		shareList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown share command %q\n\n%s", args[0], usage)
		os.Exit(2)
	}
}

// openManager loads config, opens the store, unlocks keys, and builds the
// share manager for the CLI share commands. The caller closes the returned
// store and wipes the provider.
func openManager(ctx context.Context, configPath, passphraseFile string) (*share.Manager, *keys.Provider, state.Store) {
	cfg := loadConfig(configPath)

	store, err := config.CreateStateStore(ctx, &cfg.State)
	if err != nil {
		log.Fatalf("Failed to create state store: %v", err)
	}

	provider := keys.NewProvider(store)
	credential := readCredential(passphraseFile)
	if err := provider.Unlock(ctx, credential); err != nil {
		log.Fatalf("Failed to unlock keys: %v", err)
	}
	keys.Wipe(credential)

	tokens, ok := store.(share.TokenStore)
	if !ok {
		log.Fatalf("State store %T does not support share tokens", store)
	}

	manager, err := share.NewManager(provider, tokens)
	if err != nil {
		log.Fatalf("Failed to create share manager: %v", err)
	}

	return manager, provider, store
}

func shareCreate(args []string) {
	fs := flag.NewFlagSet("share create", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	passphraseFile := fs.String("passphrase-file", "", "File containing the key-unlock passphrase")
	scope := fs.String("scope", "", "Rooted path prefix to share (e.g. /documents)")
	bucket := fs.String("bucket", "", "Bucket holding the shared objects")
	key := fs.String("key", "", "Object key whose content key covers the scope")
	recipient := fs.String("recipient", "", "Recipient public key (base64)")
	permission := fs.String("permission", string(share.PermissionReadOnly), "Access level: readOnly, readWrite, full")
	expires := fs.Duration("expires", 0, "Share lifetime (0 = never expires)")
	label := fs.String("label", "", "Human-readable note")
	qrPath := fs.String("qr", "", "Write a QR code PNG of the share link to this file")
	_ = fs.Parse(args)

	ctx := context.Background()
	manager, provider, store := openManager(ctx, *configPath, *passphraseFile)
	defer func() { _ = store.Close() }()
	defer provider.Wipe()

	recipientKey, err := base64.StdEncoding.DecodeString(*recipient)
	if err != nil {
		log.Fatalf("Invalid recipient public key: %v", err)
	}

	if *key == "" {
		log.Fatal("An object key is required: pass -key")
	}

	// Recover the DEK of the named object; it covers the shared scope
	rec, err := store.GetObjectKey(ctx, *bucket, *key)
	if err != nil {
		log.Fatalf("No content key recorded for %s/%s: %v", *bucket, *key, err)
	}
	dek, err := provider.UnwrapDEK(keys.WrappedKey{Ciphertext: rec.Ciphertext, Nonce: rec.Nonce})
	if err != nil {
		log.Fatalf("Failed to unwrap content key: %v", err)
	}
	defer keys.Wipe(dek)

	params := share.CreateShareParams{
		PathScope:          *scope,
		Bucket:             *bucket,
		RecipientPublicKey: recipientKey,
		DEK:                dek,
		Permissions:        share.Permission(*permission),
		Label:              *label,
	}
	if *expires > 0 {
		expiry := time.Now().UTC().Add(*expires)
		params.ExpiresAt = &expiry
	}

	token, err := manager.CreateShare(ctx, params)
	if err != nil {
		log.Fatalf("Failed to create share: %v", err)
	}

	link, err := share.ShareLink(token)
	if err != nil {
		log.Fatalf("Failed to render share link: %v", err)
	}

	fmt.Printf("Share created: %s\n", token.ID)
	fmt.Printf("Link: %s\n", link)

	if *qrPath != "" {
		png, err := share.QRCode(token, 0)
		if err != nil {
			log.Fatalf("Failed to render QR code: %v", err)
		}
		if err := os.WriteFile(*qrPath, png, 0644); err != nil {
			log.Fatalf("Failed to write QR code: %v", err)
		}
		fmt.Printf("QR code written to %s\n", *qrPath)
	}
}

func shareAccept(args []string) {
	fs := flag.NewFlagSet("share accept", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	passphraseFile := fs.String("passphrase-file", "", "File containing the key-unlock passphrase")
	link := fs.String("link", "", "Share link (fula://share/...) or bare token")
	_ = fs.Parse(args)

	if *link == "" {
		log.Fatal("A share link is required: pass -link")
	}

	ctx := context.Background()
	manager, provider, store := openManager(ctx, *configPath, *passphraseFile)
	defer func() { _ = store.Close() }()
	defer provider.Wipe()

	encoded := *link
	if strings.HasPrefix(encoded, share.ShareLinkScheme) {
		encoded = strings.TrimPrefix(encoded, share.ShareLinkScheme)
	}

	accepted, err := manager.AcceptShare(ctx, encoded)
	if err != nil {
		log.Fatalf("Failed to accept share: %v", err)
	}
	keys.Wipe(accepted.DEK)

	fmt.Printf("Share accepted: %s\n", accepted.Token.ID)
	fmt.Printf("Scope: %s/%s (%s)\n", accepted.Token.Bucket, strings.TrimPrefix(accepted.Token.PathScope, "/"), accepted.Token.Permissions)
}

func shareRevoke(args []string) {
	fs := flag.NewFlagSet("share revoke", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	passphraseFile := fs.String("passphrase-file", "", "File containing the key-unlock passphrase")
	id := fs.String("id", "", "Share ID to revoke")
	_ = fs.Parse(args)

	if *id == "" {
		log.Fatal("A share ID is required: pass -id")
	}

	ctx := context.Background()
	manager, provider, store := openManager(ctx, *configPath, *passphraseFile)
	defer func() { _ = store.Close() }()
	defer provider.Wipe()

	if err := manager.RevokeShare(ctx, *id); err != nil {
		log.Fatalf("Failed to revoke share: %v", err)
	}

	fmt.Printf("Share revoked: %s\n", *id)
	fmt.Println("Note: recipients who already extracted the key retain access to previously downloaded content.")
}

func shareList(args []string) {
	fs := flag.NewFlagSet("share list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	passphraseFile := fs.String("passphrase-file", "", "File containing the key-unlock passphrase")
	_ = fs.Parse(args)

	ctx := context.Background()
	manager, provider, store := openManager(ctx, *configPath, *passphraseFile)
	defer func() { _ = store.Close() }()
	defer provider.Wipe()

	tokens, err := manager.ListShares(ctx)
	if err != nil {
		log.Fatalf("Failed to list shares: %v", err)
	}

	fmt.Printf("Created shares (%d):\n", len(tokens))
	for _, t := range tokens {
		status := "active"
		if t.Revoked {
			status = "revoked"
		} else if t.IsExpired(time.Now()) {
			status = "expired"
		}
		fmt.Printf("  %s  %s/%s  %s  %s", t.ID, t.Bucket, strings.TrimPrefix(t.PathScope, "/"), t.Permissions, status)
		if t.Label != "" {
			fmt.Printf("  (%s)", t.Label)
		}
		fmt.Println()
	}

	accepted, err := manager.ListAccepted(ctx)
	if err != nil {
		log.Fatalf("Failed to list accepted shares: %v", err)
	}

	fmt.Printf("Accepted shares (%d):\n", len(accepted))
	for _, rec := range accepted {
		fmt.Printf("  %s  %s/%s  %s  accepted %s\n",
			rec.Token.ID, rec.Token.Bucket, strings.TrimPrefix(rec.Token.PathScope, "/"),
			rec.Token.Permissions, rec.AcceptedAt.Format(time.RFC3339))
	}
}
