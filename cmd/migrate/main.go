package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"mediarelay/migrations"
)

type command struct {
	name string
	help string
	run  func(db *sql.DB, dir string) error
}

var commands = []command{
	{"up", "Migrate the document store to the latest version", func(db *sql.DB, dir string) error { return goose.Up(db, dir) }},
	{"up-one", "Migrate one version up", func(db *sql.DB, dir string) error { return goose.UpByOne(db, dir) }},
	{"down", "Roll back one version", func(db *sql.DB, dir string) error { return goose.Down(db, dir) }},
	{"status", "Show migration status", func(db *sql.DB, dir string) error { return goose.Status(db, dir) }},
	{"version", "Show current version", func(db *sql.DB, dir string) error { return goose.Version(db, dir) }},
	{"reset", "Roll back all migrations (drops relay state)", func(db *sql.DB, dir string) error { return goose.Reset(db, dir) }},
}

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/relay.db"), "path to the relay sqlite database")
	flag.Usage = usage
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	cmd, ok := lookup(args[0])
	if !ok {
		log.Error("unknown command", "command", args[0])
		os.Exit(1)
	}

	if err := run(*dbPath, cmd); err != nil {
		log.Error("migrate", "command", cmd.name, "db", *dbPath, "error", err)
		os.Exit(1)
	}
}

func run(path string, cmd command) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return cmd.run(db, ".")
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s  %s\n", c.name, c.help)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
