package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	citymatch "github.com/citymatch/citymatch-go"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "View and change your subscription plan",
}

var planShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show your current plan and remaining chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := mustSession()
		defer sess.Close()
		ctx, cancel := sess.withTimeout()
		defer cancel()

		sub, err := sess.Plans.Subscription(ctx)
		if err != nil {
			return fmt.Errorf("failed to load plan: %s", describeError(err))
		}
		plan := sub.Plan
		remaining, err := sess.Plans.Remaining(ctx)
		if err != nil {
			return fmt.Errorf("failed to load chats: %s", describeError(err))
		}

		if jsonOutput {
			return printJSON(map[string]any{
				"plan":       plan,
				"startTime":  sub.StartTime,
				"expiryTime": sub.ExpiryTime,
				"chatLimit":  citymatch.ChatLimit(plan),
				"remaining":  remaining,
			})
		}
		fmt.Printf("Plan:      %s\n", planLabel(plan))
		printSubscriptionTimes("", sub)
		fmt.Printf("Limit:     %d chats\n", citymatch.ChatLimit(plan))
		fmt.Printf("Remaining: %d\n", remaining)
		return nil
	},
}

var planCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the available plans",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(citymatch.Catalog())
		}
		printCatalog()
		return nil
	},
}

var planActivateCmd = &cobra.Command{
	Use:   "activate <plan>",
	Short: "Activate a plan (plan98, plan199, plan399)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := mustSession()
		defer sess.Close()
		ctx, cancel := sess.withTimeout()
		defer cancel()

		plan := citymatch.Plan(strings.ToLower(args[0]))
		if err := sess.Plans.ActivatePlan(ctx, plan); err != nil {
			return fmt.Errorf("failed to activate plan: %s", describeError(err))
		}
		fmt.Printf("Plan %s activated.\n", planLabel(plan))
		return nil
	},
}

func printCatalog() {
	for _, d := range citymatch.Catalog() {
		fmt.Printf("%-8s %-6s up to %d chats", d.Plan, d.Price, d.ChatLimit)
		if d.Validity != "" {
			fmt.Printf(", %s", strings.ToLower(d.Validity))
		}
		fmt.Println()
		for _, f := range d.Features {
			fmt.Printf("         - %s\n", f)
		}
	}
}

// printUpgradePrompt is shown when an action hits the chat limit.
func printUpgradePrompt() {
	fmt.Println("You have reached the chat limit for your plan. Upgrade to keep chatting:")
	printCatalog()
}

func init() {
	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planCatalogCmd)
	planCmd.AddCommand(planActivateCmd)
	rootCmd.AddCommand(planCmd)
}
