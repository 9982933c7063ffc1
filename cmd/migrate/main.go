// Command migrate applies the incident table schema for the SQL store
// backends. STORE_BACKEND picks migrations/postgres or migrations/mysql.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/NikhilSetiya/pipeline-doctor/internal/database"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
)

type command struct {
	usage string
	help  string
	run   func(m *database.Migrator, args []string) error
}

var commands = map[string]command{
	"up": {"up", "apply all pending migrations", func(m *database.Migrator, _ []string) error {
		return m.Up()
	}},
	"down": {"down", "revert all migrations (drops the incident table)", func(m *database.Migrator, _ []string) error {
		return m.Down()
	}},
	"steps": {"steps <n>", "apply n migrations, or revert -n", func(m *database.Migrator, args []string) error {
		n, err := intArg(args, "steps")
		if err != nil {
			return err
		}
		return m.Steps(n)
	}},
	"version": {"version", "print the applied schema version", func(m *database.Migrator, _ []string) error {
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("schema version %d", v)
		if dirty {
			fmt.Print(" (dirty: fix the schema, then run force)")
		}
		fmt.Println()
		return nil
	}},
	"force": {"force <v>", "mark version v applied without running it", func(m *database.Migrator, args []string) error {
		v, err := intArg(args, "force")
		if err != nil {
			return err
		}
		return m.Force(v)
	}},
}

var order = []string{"up", "down", "steps", "version", "force"}

func intArg(args []string, name string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%s needs a number", name)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", name, args[0])
	}
	return n, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate <command>")
	fmt.Fprintln(os.Stderr)
	for _, name := range order {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", commands[name].usage, commands[name].help)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "STORE_BACKEND selects postgres or mysql; MIGRATIONS_PATH defaults to ./migrations")
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "help" {
		usage()
		return
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	backend := cfg.Store.Backend
	if backend != config.StoreBackendPostgres && backend != config.StoreBackendMySQL {
		log.Fatalf("STORE_BACKEND=%s keeps no SQL schema", backend)
	}

	migrator, err := database.NewMigrator(&cfg.Database, backend, os.Getenv("MIGRATIONS_PATH"))
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}

	err = cmd.run(migrator, os.Args[2:])
	if closeErr := migrator.Close(); closeErr != nil {
		log.Printf("Warning: failed to close migrator: %v", closeErr)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", os.Args[1], err)
	}
	log.Printf("migrate %s: done (%s)", os.Args[1], backend)
}
