package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ignite/pixelrelay/internal/repository/postgres"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	listOnly := false
	seedPath := ""
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case a == "--list":
			listOnly = true
		case a == "--seed" && i+1 < len(args):
			i++
			seedPath = args[i]
		case strings.HasPrefix(a, "--seed="):
			seedPath = strings.TrimPrefix(a, "--seed=")
		default:
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if listOnly {
		rows, err := db.Query(`SELECT tablename FROM pg_tables
			WHERE schemaname = 'public' AND tablename IN ('channels', 'tracked_events', 'identity_profiles')
			ORDER BY tablename`)
		if err != nil {
			log.Fatal(err)
		}
		defer rows.Close()
		n := 0
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				log.Fatal(err)
			}
			fmt.Println(" ", t)
			n++
		}
		fmt.Printf("Total: %d tables\n", n)

		if n > 0 {
			channels, err := postgres.NewChannelRepo(db).ListActive(context.Background())
			if err != nil {
				log.Fatal(err)
			}
			for _, ch := range channels {
				fmt.Printf("  channel %s (%s) pixel=%s domains=%v\n", ch.ID, ch.Name, ch.PixelID, ch.AllowedDomains)
			}
			fmt.Printf("Active channels: %d\n", len(channels))
		}
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
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
			log.Fatalf("read %s: %v", path, err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)

		tx, err := db.Begin()
		if err != nil {
			fmt.Printf("BEGIN ERROR: %v\n", err)
			errCount++
			continue
		}
		if _, err := tx.Exec(content); err != nil {
			tx.Rollback()
			fmt.Printf("ERROR: %v\n", err)
			errCount++
		} else {
			tx.Commit()
			fmt.Println("OK")
			okCount++
		}
	}
	log.Printf("Done: %d OK, %d errors", okCount, errCount)
	log.Println("Migrations complete")

	if seedPath != "" {
		channels, err := loadSeed(seedPath)
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		n, err := seedChannels(context.Background(), postgres.NewChannelRepo(db), channels)
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.Printf("Seeded %d channels from %s", n, seedPath)
	}
}
