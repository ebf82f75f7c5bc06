package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	citymatch "github.com/citymatch/citymatch-go"
)

var reportReason string

var blockCmd = &cobra.Command{
	Use:   "block <user-id>",
	Short: "Block a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := mustSession()
		defer sess.Close()
		ctx, cancel := sess.withTimeout()
		defer cancel()

		if err := sess.Moderation.Block(ctx, citymatch.UserID(args[0])); err != nil {
			return fmt.Errorf("failed to block: %s", describeError(err))
		}
		fmt.Printf("Blocked %s.\n", args[0])
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <user-id>",
	Short: "Report a user",
	Long:  "Report a user. Reasons: " + strings.Join(citymatch.ReportReasons, "; "),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := mustSession()
		defer sess.Close()
		ctx, cancel := sess.withTimeout()
		defer cancel()

		if err := sess.Moderation.Report(ctx, citymatch.UserID(args[0]), reportReason); err != nil {
			return fmt.Errorf("failed to report: %s", describeError(err))
		}
		fmt.Println("Report submitted. Thank you.")
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportReason, "reason", "", "Why you are reporting this user")
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(reportCmd)
}
