// Package main is the entrypoint for the navigation dispatch server (binary name "navrouter").
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/morezero/nav-dispatch/internal/config"
	"github.com/morezero/nav-dispatch/internal/server"
	"github.com/morezero/nav-dispatch/pkg/db"
	"github.com/morezero/nav-dispatch/pkg/events"
	"github.com/morezero/nav-dispatch/pkg/manifest"
	"github.com/morezero/nav-dispatch/pkg/middleware"
	"github.com/morezero/nav-dispatch/pkg/registry"
	"github.com/morezero/nav-dispatch/pkg/scanner"
	"github.com/morezero/nav-dispatch/pkg/session"
)

const usage = `Usage: navrouter [command]
       navrouter serve                     Start the dispatcher (NATS, HTTP, launch backend).
       navrouter migrate up                Run database migrations.
       navrouter migrate status            Show migration status.
       navrouter clear                     Truncate all session tables; schema is preserved.
       navrouter routes [file]             Load a handler manifest and print the route table.
       navrouter session login <id> [cap...]  Mark a session authenticated with capabilities.
       navrouter session logout <id>       Remove a session and its redirect target.

Commands:
  serve           (default) Start the navigation dispatcher.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  clear           Truncate session data; schema preserved.
  routes [file]   Print routes from file, NAV_MANIFEST_FILE or config/routes.json.
  session         Manage Postgres-backed sessions.

Environment: COMMS_URL, DATABASE_URL (optional for serve; required for migrate, clear, session),
MIGRATION_PATH, NAV_MANIFEST_FILE, NAV_MANIFEST_CONSTRAINT, HTTP_PORT. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("navrouter migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("navrouter migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("navrouter migrate status: %v", err)
			}
		default:
			log.Fatalf("navrouter migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("navrouter clear: %v", err)
		}
		return
	case "routes":
		file := ""
		if len(args) > 1 {
			file = args[1]
		}
		if err := printRoutes(os.Stdout, file, os.Getenv("NAV_MANIFEST_CONSTRAINT")); err != nil {
			log.Fatalf("navrouter routes: %v", err)
		}
		return
	case "session":
		if err := runSession(args[1:]); err != nil {
			log.Fatalf("navrouter session: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("navrouter: %v", err)
	}
}

// withPool loads config, connects to the database and runs fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, repo *db.Repository) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, db.NewRepository(pool))
}

func runMigrateUp() error {
	return withPool(func(ctx context.Context, cfg *config.Config, repo *db.Repository) error {
		migrations, err := db.LoadMigrations(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, repo.Pool(), migrations); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

func runMigrateStatus() error {
	return withPool(func(ctx context.Context, cfg *config.Config, repo *db.Repository) error {
		status, err := db.MigrationStatus(ctx, repo.Pool(), cfg.MigrationPath)
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	})
}

func runClear() error {
	return withPool(func(ctx context.Context, _ *config.Config, repo *db.Repository) error {
		if err := db.ClearSessions(ctx, repo.Pool()); err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}
		return nil
	})
}

func runSession(args []string) error {
	if len(args) < 2 || args[1] == "" {
		return fmt.Errorf("usage: navrouter session login|logout <id> [cap...]")
	}
	sub, id := args[0], args[1]
	return withPool(func(ctx context.Context, _ *config.Config, repo *db.Repository) error {
		store := session.NewPostgresStore(repo)
		switch sub {
		case "login":
			if err := store.Authenticate(ctx, id, args[2:]...); err != nil {
				return err
			}
			fmt.Printf("Session %q authenticated.\n", id)
		case "logout":
			if err := store.Revoke(ctx, id); err != nil {
				return err
			}
			fmt.Printf("Session %q revoked.\n", id)
		default:
			return fmt.Errorf("unknown subcommand %q (use login, logout)", sub)
		}
		return nil
	})
}

// printRoutes scans the manifest into a throwaway registry and writes the
// resulting route table to w.
func printRoutes(w io.Writer, file, constraint string) error {
	m := manifest.LoadManifest(file)
	reg := registry.NewRegistry(registry.NewRegistryParams{})
	chain := middleware.NewChain(nil)
	catalog := middleware.NewCatalog()
	_ = catalog.Put(middleware.NameAudit, middleware.NewAudit(&events.NoOpSink{}))

	store := session.NewMemoryStore()
	sessionCheck, err := middleware.NewSessionCheck(store, "/login")
	if err != nil {
		return err
	}
	binder := &middleware.Binder{
		Chain:        chain,
		Catalog:      catalog,
		Session:      sessionCheck,
		Capabilities: middleware.NewCapabilityCheck(store),
	}

	sc := &scanner.Scanner{Registry: reg, Binder: binder, Constraint: constraint}
	report, err := sc.Scan(context.Background(), m)
	if err != nil {
		return err
	}

	snap := reg.Snapshot()
	paths := make([]string, 0, len(snap))
	for p := range snap {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	fmt.Fprintf(w, "Manifest %s %s: %d routes\n", m.Name, m.Version, len(paths))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tHANDLER\tAUTH\tCAPABILITIES\tMIDDLEWARE")
	for _, p := range paths {
		d := snap[p]
		auth := ""
		if d.RequiresAuth {
			auth = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p, d.HandlerID, auth,
			strings.Join(d.RequiredCapabilities, ","), strings.Join(d.MiddlewareIDs, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(w, "skipped %s (%s): %s\n", s.HandlerID, s.Path, s.Reason)
	}
	return nil
}
