// Command kudos-admin runs operator tasks against the kudos database.
//
// Usage:
//
//	kudos-admin token -subject community-api -role service -ttl 720h
//	kudos-admin reconcile-all
//	kudos-admin reset -reason "season 3"
//	kudos-admin archive
//	kudos-admin verify -id <archive id>
//	kudos-admin seed-rewards -file rewards.yaml
//	kudos-admin export -out leaderboard.xlsx
//	kudos-admin webhook-sign -file payload.json
//
// Configuration comes from the same KUDOS_* environment (and .env file) as
// the service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/kudos/internal/archive"
	"github.com/dukerupert/kudos/internal/auth"
	"github.com/dukerupert/kudos/internal/config"
	"github.com/dukerupert/kudos/internal/database"
	"github.com/dukerupert/kudos/internal/keylock"
	"github.com/dukerupert/kudos/internal/leaderboard"
	"github.com/dukerupert/kudos/internal/ledger"
	"github.com/dukerupert/kudos/internal/logging"
	"github.com/dukerupert/kudos/internal/reward"
	"github.com/dukerupert/kudos/internal/webhook"
)

const actor = "kudos-admin"

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"token", "issue a bearer token", runToken},
	{"reconcile-all", "resum every account and repair drift", runReconcileAll},
	{"reset", "zero every account's points", runReset},
	{"archive", "archive new ledger events to S3", runArchive},
	{"verify", "replay archives and compare with live totals", runVerify},
	{"seed-rewards", "create reward configurations from a YAML file", runSeed},
	{"export", "write the leaderboard as xlsx", runExport},
	{"webhook-sign", "print signature headers for a payload", runSign},
}

// env is built lazily so token and webhook-sign work without a database.
type env struct {
	cfg    *config.Config
	logger *slog.Logger

	ledger   *ledger.Ledger
	rewards  *reward.Engine
	archives *archive.Manager
	board    *leaderboard.View
}

func (e *env) open() (func(), error) {
	db, err := database.Open(e.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	locks := keylock.New()
	retry := e.cfg.Retry()
	e.rewards = reward.New(db, locks, e.logger.With("component", "reward"), reward.WithRetry(retry))
	e.ledger = ledger.New(db, locks, e.logger.With("component", "ledger"),
		ledger.WithRewards(e.rewards),
		ledger.WithRetry(retry),
		ledger.WithDefaultCommunity(e.cfg.DefaultCommunity),
	)
	e.archives = archive.NewManager(e.cfg.Archive, db, e.logger.With("component", "archive"))
	e.board = leaderboard.New(db, e.logger.With("component", "leaderboard"), retry)
	return func() { db.Close() }, nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == os.Args[1] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, &env{cfg: cfg, logger: logger}, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd.name, err)
		stop()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kudos-admin <command> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-14s %s\n", c.name, c.usage)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runToken(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "", "token subject (service name or operator handle)")
	role := fs.String("role", auth.RoleService, "service or admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	fs.Parse(args)

	tok, err := auth.Issue(e.cfg.JWTSecret, *subject, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func runReconcileAll(ctx context.Context, e *env, _ []string) error {
	closeDB, err := e.open()
	if err != nil {
		return err
	}
	defer closeDB()

	results, err := e.ledger.ReconcileAll(ctx, actor)
	if err != nil {
		return err
	}
	corrected := 0
	for _, r := range results {
		if r.Corrected {
			corrected++
			fmt.Printf("%s: %d -> %d\n", r.UserID, r.Cached, r.Recomputed)
		}
	}
	fmt.Printf("%d accounts checked, %d corrected\n", len(results), corrected)
	return nil
}

func runReset(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	reason := fs.String("reason", "", "reason recorded on every reset event (required)")
	fs.Parse(args)

	closeDB, err := e.open()
	if err != nil {
		return err
	}
	defer closeDB()

	summary, err := e.ledger.ResetAll(ctx, *reason, actor)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runArchive(ctx context.Context, e *env, _ []string) error {
	closeDB, err := e.open()
	if err != nil {
		return err
	}
	defer closeDB()

	a, err := e.archives.RunNow(ctx, actor)
	if err != nil {
		return err
	}
	if a == nil {
		fmt.Println("nothing to archive")
		return nil
	}
	return printJSON(a)
}

func runVerify(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	id := fs.String("id", "", "archive id (required)")
	fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	closeDB, err := e.open()
	if err != nil {
		return err
	}
	defer closeDB()

	report, err := e.archives.Verify(ctx, *id)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.OK {
		return fmt.Errorf("%d accounts disagree with the archive", len(report.Mismatches))
	}
	return nil
}

func runSeed(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("seed-rewards", flag.ExitOnError)
	path := fs.String("file", "rewards.yaml", "YAML seed file")
	fs.Parse(args)

	f, err := os.Open(*path)
	if err != nil {
		return err
	}
	defer f.Close()

	closeDB, err := e.open()
	if err != nil {
		return err
	}
	defer closeDB()

	created, err := e.rewards.Seed(ctx, f, actor)
	if err != nil {
		return err
	}
	for _, c := range created {
		fmt.Printf("created %d: %s/%s %q\n", c.ID, c.CommunityID, c.TierName, c.Title)
	}
	fmt.Printf("%d configurations created\n", len(created))
	return nil
}

func runExport(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "leaderboard.xlsx", "output path")
	fs.Parse(args)

	closeDB, err := e.open()
	if err != nil {
		return err
	}
	defer closeDB()

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	rows, err := e.board.Export(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d rows to %s\n", rows, *out)
	return nil
}

func runSign(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("webhook-sign", flag.ExitOnError)
	path := fs.String("file", "", "payload file (required)")
	fs.Parse(args)
	if *path == "" {
		return fmt.Errorf("-file is required")
	}

	body, err := os.ReadFile(*path)
	if err != nil {
		return err
	}
	for k, v := range webhook.Sign([]byte(e.cfg.WebhookSecret), body, time.Now()) {
		fmt.Printf("%s: %s\n", k, v[0])
	}
	return nil
}
