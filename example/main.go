package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/ideamans/go-sheetsync"
	"github.com/ideamans/go-sheetsync/adapters/appsscript"
	"github.com/ideamans/go-sheetsync/intercept"
	"github.com/ideamans/go-sheetsync/localstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// SHEETSYNC_API_URL, SHEETSYNC_DB_PATH, ...
	cfg, err := sheetsync.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.APIURL == "" {
		return errors.New("SHEETSYNC_API_URL is required")
	}

	store, err := localstore.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer store.Close()

	// All remote traffic goes through the interception worker, which adds
	// the token, mirrors responses and queues calls made while offline.
	worker := intercept.NewWorker(nil, store, intercept.DefaultPolicy())
	worker.SetLogger(logger)
	go worker.Run(ctx)

	remote, err := appsscript.New(&appsscript.Config{URL: cfg.APIURL, HTTPClient: worker.Client()})
	if err != nil {
		return err
	}

	session, err := sheetsync.Login(ctx, remote, store, os.Getenv("SHEETSYNC_EMAIL"), os.Getenv("SHEETSYNC_PASSWORD"))
	if err != nil {
		return err
	}
	session.OnTokenChange(func(token string) {
		msg := intercept.Message{Type: intercept.MessageSetAuthToken, Token: token}
		if err := worker.PostMessage(ctx, msg); err != nil {
			logger.Warn("failed to hand token to worker", "error", err)
		}
	})
	defer session.Logout()
	remote.SetTokenSource(session)

	client := sheetsync.New(remote, store, session, cfg)
	client.SetLogger(logger)

	res, err := client.FetchResource(ctx, "Suppliers", sheetsync.FetchOptions{Policy: sheetsync.PolicyTimeWindowed})
	if err != nil {
		return err
	}
	fmt.Printf("Suppliers: %d rows from %s (stale: %v)\n", len(res.Records), res.Meta.Source, res.Stale)

	recent, err := res.Query(sheetsync.Query{
		Conditions: []sheetsync.Condition{{Column: "UpdatedAt", Operator: ">=", Value: "2026-01-01"}},
		Limit:      10,
	})
	if err != nil {
		return err
	}
	for _, rec := range recent {
		fmt.Printf("  %s: %s\n", rec.Code(), rec.GetAsString("Name", "?"))
	}

	payload := map[string]any{"resource": "Suppliers", "record": map[string]any{"Name": "New Supplier"}}
	resp, err := client.CreateRecord(ctx, "Suppliers", sheetsync.Record{"Name": "New Supplier"})
	if err != nil {
		// Keep the write for a later flush.
		if _, qerr := client.QueueWrite(ctx, sheetsync.ActionCreate, payload); qerr != nil {
			return qerr
		}
		logger.Warn("create queued", "error", err)
	} else if resp.Success {
		fmt.Println("Created supplier")
	}

	flushed, err := client.FlushQueue(ctx)
	if err != nil {
		logger.Warn("outbox flush stopped", "error", err)
	}
	fmt.Printf("Outbox: replayed %d, rejected %d, remaining %d\n", flushed.Replayed, flushed.Rejected, flushed.Remaining)

	return nil
}
