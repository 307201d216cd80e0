package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mathbot/internal/config"
	"mathbot/internal/prompt"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your mathbot installation",
		Long: `Verifies that mathbot's configuration, credentials, ops port and log
file are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("mathbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'mathbot init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Model credentials
			if cfg.Model.APIKey == "" && cfg.Model.BaseURL == "" {
				printWarn("Model: "+cfg.Model.Backend, "no API key configured")
				warned++
			} else {
				printPass("Model: "+cfg.Model.Backend, cfg.Model.Name)
				passed++
			}

			// 4. Transports
			enabled := 0
			if cfg.Channels.Slack.Enabled {
				enabled++
				printPass("Slack", "socket mode")
				passed++
			}
			if cfg.Channels.Telegram.Enabled {
				enabled++
				detail := "allow all users"
				if n := len(cfg.Channels.Telegram.AllowFrom); n > 0 {
					detail = fmt.Sprintf("%d allowed user(s)", n)
				}
				printPass("Telegram", detail)
				passed++
			}
			if enabled == 0 {
				printWarn("Transports", "none enabled; only 'mathbot chat' will work")
				warned++
			}

			// 5. Tokenizer
			if n := prompt.NewTiktokenCounter("", logger).Count("∫ x dx"); n <= 0 {
				printWarn("Tokenizer", "token counting unavailable")
				warned++
			} else {
				printPass("Tokenizer", "ok")
				passed++
			}

			// 6. Ops port
			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					printWarn("Ops server", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
					warned++
				} else {
					printPass("Ops server", cfg.Metrics.Addr+" available")
					passed++
				}
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(config.ExpandPath(cfg.General.LogFile)), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nmathbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! mathbot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
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
