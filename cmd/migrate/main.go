// Applies migrations/*.sql in name order, recording each file in the
// schema_migrations table. "migrate down" reverts the most recently applied
// file using the section below its "-- +migrate Down" marker.
package main

import (
	"bufio"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"creditledger/internal/config"
	"creditledger/internal/db"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}
	cfg := config.Load()
	database, err := db.Connect(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	if _, err := database.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (filename text primary key, applied_at timestamptz default now())`); err != nil {
		log.Fatalf("failed to ensure schema_migrations: %v", err)
	}

	mode := "up"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	switch mode {
	case "up":
		err = migrateUp(database)
	case "down":
		err = migrateDown(database)
	default:
		log.Fatalf("unknown command %q, want up or down", mode)
	}
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}
}

func migrateUp(database *sqlx.DB) error {
	files, err := filepath.Glob("migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, file := range files {
		filename := filepath.Base(file)
		var applied bool
		if err := database.Get(&applied, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, filename); err != nil {
			return fmt.Errorf("read state of %s: %w", filename, err)
		}
		if applied {
			continue
		}
		up, _, err := readSections(file)
		if err != nil {
			return err
		}
		if err := runStatements(database, up); err != nil {
			return fmt.Errorf("apply %s: %w", filename, err)
		}
		if _, err := database.Exec(`INSERT INTO schema_migrations (filename) VALUES ($1)`, filename); err != nil {
			return fmt.Errorf("record %s: %w", filename, err)
		}
		log.Printf("applied %s", filename)
	}
	return nil
}

func migrateDown(database *sqlx.DB) error {
	var filename string
	err := database.Get(&filename, `SELECT filename FROM schema_migrations ORDER BY filename DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		log.Println("nothing to revert")
		return nil
	}
	if err != nil {
		return err
	}
	_, down, err := readSections(filepath.Join("migrations", filename))
	if err != nil {
		return err
	}
	if strings.TrimSpace(down) == "" {
		return fmt.Errorf("%s has no down section", filename)
	}
	if err := runStatements(database, down); err != nil {
		return fmt.Errorf("revert %s: %w", filename, err)
	}
	if _, err := database.Exec(`DELETE FROM schema_migrations WHERE filename = $1`, filename); err != nil {
		return fmt.Errorf("unrecord %s: %w", filename, err)
	}
	log.Printf("reverted %s", filename)
	return nil
}

func readSections(path string) (up, down string, err error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	up, down, _ = strings.Cut(string(content), "-- +migrate Down")
	return up, down, nil
}

func runStatements(database *sqlx.DB, section string) error {
	for _, stmt := range splitStatements(section) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := database.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements cuts a migration section into executable statements on
// semicolon-terminated lines, skipping comment lines.
func splitStatements(section string) []string {
	var statements []string
	var current strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(section))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		current.WriteString(line)
		current.WriteRune('\n')
		if strings.Contains(line, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements
}
