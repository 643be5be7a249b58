// Seeds a sandbox database with accounts, entities and policy terms so a
// rehearsal run with --sandbox has something to mutate.
//
// Usage:
//
//	go run ./cmd/sandbox-seed --db sandbox.db --entities entities.csv \
//	    --policy 'cheap=MISLEADING_CLAIMS' --policy 'casino=GAMBLING:exempt'
//
// entities.csv has a header row naming account_id, entity, id and, optionally,
// name, status and origin columns.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/tonimelisma/bulkmutate/internal/remote"
	"github.com/tonimelisma/bulkmutate/internal/remote/sandbox"
)

type policyFlag struct {
	term       string
	name       string
	exemptable bool
}

func parsePolicy(s string) (policyFlag, error) {
	term, rest, ok := strings.Cut(s, "=")
	if !ok || term == "" || rest == "" {
		return policyFlag{}, fmt.Errorf("policy %q: want term=NAME[:exempt]", s)
	}

	name, mode, _ := strings.Cut(rest, ":")

	return policyFlag{term: term, name: name, exemptable: mode == "exempt"}, nil
}

func main() {
	dbPath := flag.String("db", "sandbox.db", "sandbox database to create or extend")
	entitiesPath := flag.String("entities", "", "CSV file of entities to upsert")

	var policies []policyFlag

	flag.Func("policy", "policy term as term=NAME[:exempt] (repeatable)", func(s string) error {
		p, err := parsePolicy(s)
		if err != nil {
			return err
		}

		policies = append(policies, p)

		return nil
	})
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	n, err := seed(context.Background(), *dbPath, *entitiesPath, policies, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Seeded %d entities and %d policy terms into %s.\n", n, len(policies), *dbPath)
}

func seed(ctx context.Context, dbPath, entitiesPath string, policies []policyFlag, logger *slog.Logger) (int, error) {
	store, err := sandbox.Open(ctx, dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	for _, p := range policies {
		if err := store.AddPolicyTerm(ctx, p.term, p.name, p.exemptable); err != nil {
			return 0, err
		}
	}

	if entitiesPath == "" {
		return 0, nil
	}

	f, err := os.Open(entitiesPath)
	if err != nil {
		return 0, fmt.Errorf("opening entities: %w", err)
	}
	defer f.Close()

	return seedEntities(ctx, store, f)
}

func seedEntities(ctx context.Context, store *sandbox.Store, src io.Reader) (int, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("reading entities header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, required := range []string{"account_id", "entity", "id"} {
		if _, ok := cols[required]; !ok {
			return 0, fmt.Errorf("entities header lacks %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}

		return strings.TrimSpace(rec[i])
	}

	var n int

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}

		if err != nil {
			return n, fmt.Errorf("reading entities: %w", err)
		}

		e := remote.Entity{
			Type:   field(rec, "entity"),
			ID:     field(rec, "id"),
			Name:   field(rec, "name"),
			Status: field(rec, "status"),
			Origin: field(rec, "origin"),
		}

		if err := store.Seed(ctx, field(rec, "account_id"), e); err != nil {
			return n, err
		}

		n++
	}
}
