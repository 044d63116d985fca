package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

func fatal(msg string, fields ...interface{}) {
	logger.Error(msg, fields...)
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	listOnly := flag.Bool("list", false, "list campaign tables and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("failed to load config", "error", err)
	}
	if cfg.Database.URL == "" {
		fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	if flag.NArg() > 0 {
		dir = flag.Arg(0)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		fatal("connect", "error", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fatal("ping", "error", err)
	}
	logger.Info("connected to database")

	if *listOnly {
		rows, err := db.Query(`SELECT tablename FROM pg_tables
			WHERE schemaname = 'public' AND (tablename IN ('contacts', 'campaigns') OR tablename LIKE 'campaign\_%')
			ORDER BY tablename`)
		if err != nil {
			fatal("list tables", "error", err)
		}
		defer rows.Close()
		n := 0
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				fatal("scan", "error", err)
			}
			fmt.Println(" ", t)
			n++
		}
		fmt.Printf("Total: %d tables\n", n)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		fatal("read migrations dir", "dir", dir, "error", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var okCount, errCount int
	for _, f := range files {
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			fatal("read migration", "file", path, "error", err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			logger.Error("begin failed", "file", f, "error", err)
			errCount++
			continue
		}
		if _, err := tx.Exec(content); err != nil {
			tx.Rollback()
			logger.Error("migration failed", "file", f, "error", err)
			errCount++
			continue
		}
		if err := tx.Commit(); err != nil {
			logger.Error("commit failed", "file", f, "error", err)
			errCount++
			continue
		}
		logger.Info("migration applied", "file", f)
		okCount++
	}
	logger.Info("migrations complete", "ok", okCount, "errors", errCount)
	if errCount > 0 {
		os.Exit(1)
	}
}
