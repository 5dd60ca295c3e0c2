package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/voxlate/dubmeter/internal/config"
	"github.com/voxlate/dubmeter/internal/storage"
	"github.com/voxlate/dubmeter/internal/usage"
)

var (
	statusHistoryDays int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current quota and usage status",
	Long:  `Read the local usage store and print today's consumption, remaining quota, and recent history.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusHistoryDays, "history", 7, "Number of recent days of history to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for status mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	tracker := usage.NewTracker(
		store.Usage(),
		usage.Config{DailyQuotaMinutes: cfg.Quota.DailyQuotaMinutes},
		usage.RealClock{},
		logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := tracker.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read usage stats: %w", err)
	}

	totals, err := store.Usage().ListDailyTotals(ctx)
	if err != nil {
		return fmt.Errorf("failed to read usage history: %w", err)
	}

	printStatus(stats, totals, statusHistoryDays)

	return nil
}

// printStatus prints the usage status with colors
func printStatus(stats *usage.Stats, totals []storage.DailyTotal, historyDays int) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("DUBBING USAGE STATUS")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Daily Quota:   %.1f minutes\n", stats.DailyQuotaMinutes)
	fmt.Printf("Used Today:    %.2f minutes\n", stats.TodayMinutes)
	fmt.Printf("Remaining:     %.2f minutes\n", stats.RemainingMinutes)
	fmt.Println()

	cyan.Print("Quota:         ")
	if stats.QuotaExceeded {
		red.Println("EXHAUSTED")
		fmt.Println("               → New dubbing sessions will be refused")
	} else {
		green.Println("AVAILABLE")
	}

	if stats.ActiveSessionID != "" {
		yellow.Printf("Session:       %s (%.2f minutes so far)\n", stats.ActiveSessionID, stats.ActiveMinutes)
	} else {
		fmt.Printf("Session:       (none active)\n")
	}

	if len(totals) > 0 {
		fmt.Println()
		cyan.Println("Recent history:")
		start := 0
		if historyDays > 0 && len(totals) > historyDays {
			start = len(totals) - historyDays
		}
		for _, day := range totals[start:] {
			fmt.Printf("  %s  %6.2f minutes\n", day.Date, day.TotalMinutes)
		}
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
