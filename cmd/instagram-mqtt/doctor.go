package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/config"
	"github.com/itxabrham07/instagram-mqtt/internal/insta"
	"github.com/itxabrham07/instagram-mqtt/internal/module"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies that the configuration, credentials, session, database, and
network are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("instagram-mqtt doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'instagram-mqtt init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config load", err.Error())
				failed++
			} else if err := config.Validate(cfg); err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Credentials
			sessionPath := config.ExpandPath(cfg.Instagram.SessionPath)
			sess, sessErr := insta.LoadSession(sessionPath)
			switch {
			case sessErr == nil && sess.LoggedIn():
				printPass("Session", fmt.Sprintf("%s (logged in)", sessionPath))
				passed++
			case sessErr == nil:
				printWarn("Session", "file exists but carries no login cookies")
				warned++
			default:
				printWarn("Session", "none saved, first run will log in")
				warned++
			}

			if cfg.Instagram.Username == "" {
				printFail("Credentials", "instagram.username is empty")
				failed++
			} else if cfg.Instagram.Password == "" && (sessErr != nil || !sess.LoggedIn()) {
				printFail("Credentials", "no password and no usable session")
				failed++
			} else {
				printPass("Credentials", cfg.Instagram.Username)
				passed++
			}

			// 4. Database writable
			if cfg.History.Enabled {
				dbPath := config.ExpandPath(cfg.History.DBPath)
				if err := checkDatabase(dbPath); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", dbPath)
					passed++
				}
			}

			// 5. Responder rules parse
			if cfg.Responder.Enabled {
				_, err := module.NewResponder(module.ResponderConfig{
					RulesPath: config.ExpandPath(cfg.Responder.RulesPath),
					Trigger:   cfg.Bot.Trigger,
					Logger:    logger,
				})
				if err != nil {
					printFail("Responder rules", err.Error())
					failed++
				} else {
					printPass("Responder rules", cfg.Responder.RulesPath)
					passed++
				}
			}

			// 6. Metrics port available
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics listen", cfg.Metrics.Listen)
					passed++
				}
			}

			// 7. API host resolves
			host := apiHost(cfg.Instagram.APIBase)
			if err := checkDNS(host); err != nil {
				printWarn("Network", fmt.Sprintf("cannot resolve %s: %v", host, err))
				warned++
			} else {
				printPass("Network", host+" resolves")
				passed++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the bot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe bot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! The bot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func apiHost(base string) string {
	if base == "" {
		return "i.instagram.com"
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "i.instagram.com"
	}
	return u.Hostname()
}

func checkDNS(host string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := net.DefaultResolver.LookupHost(ctx, host)
	return err
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
