// ballast-migrate applies the schema migrations embedded in the binary.
//
// Usage:
//
//	ballast-migrate -database-url postgres://... [-steps N] [-down]
//
// With no flags beyond the URL it migrates up to the latest version.
package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/fenlabs/ballast/migrations"
)

var (
	databaseURL = flag.String("database-url", os.Getenv("BALLAST_POSTGRES_URL"), "Postgres URL (defaults to BALLAST_POSTGRES_URL)")
	steps       = flag.Int("steps", 0, "Apply exactly N migrations (negative rolls back)")
	down        = flag.Bool("down", false, "Roll back one migration")
	showVersion = flag.Bool("version", false, "Print the current schema version and exit")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)

	if *databaseURL == "" {
		log.Fatal("-database-url or BALLAST_POSTGRES_URL is required")
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		log.Fatalf("Failed to load embedded migrations: %v", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, *databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer m.Close()

	if *showVersion {
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Fatalf("Failed to read version: %v", err)
		}
		log.Printf("Schema version: %d (dirty: %v)", version, dirty)
		return
	}

	switch {
	case *down:
		err = m.Steps(-1)
	case *steps != 0:
		err = m.Steps(*steps)
	default:
		err = m.Up()
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("Schema already up to date")
		return
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		log.Fatalf("Failed to read version: %v", err)
	}
	log.Printf("Migration complete. Schema version: %d (dirty: %v)", version, dirty)
}
