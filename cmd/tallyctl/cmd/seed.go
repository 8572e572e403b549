package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tallyhq/tally/internal/accounts"
	"github.com/tallyhq/tally/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed <username> [actions] [days]",
	Short: "Generate fake actions and logs for a user",
	Long: `Create [actions] actions named "Test Action N" for an existing user and log
one entry per action per day for the last [days] days, each with a delta
between 0 and 3.

Examples:
  tallyctl seed alice           # 3 actions, 30 days
  tallyctl seed alice 5 90      # 5 actions, 90 days`,
	Args: cobra.RangeArgs(1, 3),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	username := args[0]
	actions, err := intArg(args, 1, "actions", seed.DefaultActions)
	if err != nil {
		return err
	}
	days, err := intArg(args, 2, "days", seed.DefaultDays)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = b.close() }()

	user, err := b.users.GetByUsername(ctx, username)
	if errors.Is(err, accounts.ErrUserNotFound) {
		return fmt.Errorf("user %s not found", username)
	}
	if err != nil {
		return err
	}

	res, err := seed.Generate(ctx, b.tracker, user.ID, seed.Options{Actions: actions, Days: days})
	if err != nil {
		return err
	}

	logger.Debug("seed complete", "user_id", user.ID, "actions", len(res.Actions), "logs", res.Logs)
	fmt.Fprintf(cmd.OutOrStdout(), "Generated %d actions with %d logs for %s\n", len(res.Actions), res.Logs, username)
	return nil
}

func intArg(args []string, i int, name string, def int) (int, error) {
	if len(args) <= i {
		return def, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, args[i])
	}
	return n, nil
}
