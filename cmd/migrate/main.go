package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/dhawalhost/gateseal/pkg/database"
)

func main() {
	port := 5432
	if v := os.Getenv("DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			port = n
		}
	}

	cfg := database.Config{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     port,
		User:     envOr("DB_USER", "postgres"),
		Password: envOr("DB_PASSWORD", "postgres"),
		DBName:   envOr("DB_NAME", "gateseal"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}

	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		log.Fatalln(err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		log.Fatalf("Failed to create schema_migrations table: %v", err)
	}

	dir := envOr("MIGRATIONS_DIR", "migrations")
	files, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("Failed to read migrations directory: %v", err)
	}

	var upMigrations []string
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".up.sql") {
			upMigrations = append(upMigrations, f.Name())
		}
	}
	sort.Strings(upMigrations)

	applied := 0
	for _, filename := range upMigrations {
		var done bool
		if err := db.Get(&done, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`, filename); err != nil {
			log.Fatalf("Failed to check migration %s: %v", filename, err)
		}
		if done {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			log.Fatalf("Failed to read migration file %s: %v", filename, err)
		}

		// Each migration runs in its own transaction together with its
		// bookkeeping row, so a failure leaves nothing half recorded.
		tx, err := db.Beginx()
		if err != nil {
			log.Fatalln(err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			log.Fatalf("Failed to apply %s: %v", filename, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (filename) VALUES ($1)`, filename); err != nil {
			tx.Rollback()
			log.Fatalf("Failed to record %s: %v", filename, err)
		}
		if err := tx.Commit(); err != nil {
			log.Fatalln(err)
		}

		fmt.Printf("Applied %s\n", filename)
		applied++
	}

	fmt.Printf("Migrations up to date (%d applied)\n", applied)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
