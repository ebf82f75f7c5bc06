package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	citymatch "github.com/citymatch/citymatch-go"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the effective configuration and fetch the live plan and chat usage.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		s, err := resolveSettings(cfg)
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:  %s\n", s.BaseURL)
		fmt.Printf("  Log:       %s (%s)\n", s.LogLevel, s.LogFormat)
		fmt.Printf("  Timeout:   %s\n", s.Timeout)

		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  User ID:   %s\n", valueOrDefault(string(s.UserID), "(not set)"))
		if s.Token != "" {
			fmt.Printf("  Token:     %s\n", maskKey(s.Token))
		} else {
			fmt.Println("  Token:     (not set)")
		}

		if s.Token == "" || s.UserID == "" {
			return nil
		}

		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()
		ctx, cancel := sess.withTimeout()
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")
		sub, err := sess.Plans.Subscription(ctx)
		if err != nil {
			fmt.Printf("  Error fetching plan: %s\n", describeError(err))
			return nil
		}
		plan := sub.Plan
		remaining, err := sess.Plans.Remaining(ctx)
		if err != nil {
			fmt.Printf("  Error fetching chats: %s\n", describeError(err))
			return nil
		}
		fmt.Printf("  Plan:      %s\n", planLabel(plan))
		printSubscriptionTimes("  ", sub)
		fmt.Printf("  Limit:     %d chats\n", citymatch.ChatLimit(plan))
		fmt.Printf("  Remaining: %d\n", remaining)
		return nil
	},
}

// printSubscriptionTimes prints activation and expiry for an active plan.
func printSubscriptionTimes(indent string, sub *citymatch.Subscription) {
	if sub.Plan == citymatch.PlanNone || sub.StartTime == 0 {
		return
	}
	fmt.Printf("%sStarted:   %s\n", indent, time.Unix(0, sub.StartTime).Format(time.DateOnly))
	switch {
	case sub.ExpiryTime == nil:
	case sub.Expired(time.Now()):
		fmt.Printf("%sExpired:   %s\n", indent, time.Unix(0, *sub.ExpiryTime).Format(time.DateOnly))
	default:
		fmt.Printf("%sExpires:   %s\n", indent, time.Unix(0, *sub.ExpiryTime).Format(time.DateOnly))
	}
}

func planLabel(plan citymatch.Plan) string {
	if d, ok := citymatch.LookupPlan(plan); ok {
		return fmt.Sprintf("%s (%s)", plan, d.Price)
	}
	return "none"
}
