package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/ideamans/go-sheetsync"
	"github.com/ideamans/go-sheetsync/adapters/excel"
	"github.com/ideamans/go-sheetsync/localstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()
	dir := "./example_data"

	// The workbook plays the system of record; no network is involved.
	remote, err := excel.New(&excel.Config{
		FilePath:           filepath.Join(dir, "master.xlsx"),
		CodeSequenceLength: 4,
		Users:              map[string]string{"demo@example.com": "demo"},
	})
	if err != nil {
		return fmt.Errorf("failed to create Excel remote: %w", err)
	}

	err = remote.Workbook().PutSheet(ctx, "Suppliers",
		[]string{"Code", "Name", "Country", "Status", "UpdatedAt"},
		[][]any{
			{"S0001", "Acme", "US", "Active", "2026-01-10T00:00:00.000Z"},
			{"S0002", "Globex", "JP", "Active", "2026-01-11T00:00:00.000Z"},
			{"S0003", "Initech", "US", "Inactive", "2026-01-12T00:00:00.000Z"},
		})
	if err != nil {
		return err
	}

	store, err := localstore.Open(ctx, filepath.Join(dir, "cache.db"))
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer store.Close()

	session, err := sheetsync.Login(ctx, remote, store, "demo@example.com", "demo")
	if err != nil {
		return err
	}
	remote.SetTokenSource(session)

	client := sheetsync.New(remote, store, session, excel.DefaultClientConfig())

	// 1. Initial sync
	res, err := client.FetchResource(ctx, "Suppliers", sheetsync.FetchOptions{})
	if err != nil {
		return err
	}
	fmt.Printf("Fetched %d active suppliers from %s\n", len(res.Records), res.Meta.Source)

	// 2. Second fetch is served from cache
	res, _ = client.FetchResource(ctx, "Suppliers", sheetsync.FetchOptions{})
	fmt.Printf("Second fetch served from %s\n", res.Meta.Source)

	// 3. Create and update, then pull the delta
	created, err := client.CreateRecord(ctx, "Suppliers", sheetsync.Record{"Name": "Umbrella", "Country": "UK"})
	if err != nil {
		return err
	}
	fmt.Printf("Create: success=%v %s\n", created.Success, created.Data)

	if _, err := client.UpdateRecord(ctx, "Suppliers", "S0003", sheetsync.Record{"Status": "Active"}); err != nil {
		return err
	}

	res, err = client.FetchResource(ctx, "Suppliers", sheetsync.FetchOptions{ForceSync: true})
	if err != nil {
		return err
	}
	us, err := res.Query(sheetsync.Query{Conditions: []sheetsync.Condition{{Column: "Country", Operator: "==", Value: "US"}}})
	if err != nil {
		return err
	}
	fmt.Printf("After sync: %d active suppliers, %d in US\n", len(res.Records), len(us))

	// 4. Snapshot the local cache
	out := filepath.Join(dir, "suppliers_snapshot.xlsx")
	if err := excel.ExportResource(ctx, store, out, "Suppliers"); err != nil {
		return err
	}
	fmt.Printf("Snapshot written to %s\n", out)

	session.Logout()
	return nil
}
