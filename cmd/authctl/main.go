// Command authctl inspects and operates the local multi-account auth pool:
// resolving the active token, rotating accounts, and stamping rate-limit
// cooldowns.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/entirecore/agentcore/internal/auth"
	"github.com/entirecore/agentcore/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var poolPath, legacyPath string

	cmd := &cobra.Command{
		Use:   "authctl",
		Short: "Inspect and operate the multi-account auth pool",
	}
	home, _ := os.UserHomeDir()
	cmd.PersistentFlags().StringVar(&poolPath, "pool", filepath.Join(home, ".agentcore", "auth_pool.json"), "auth pool file")
	cmd.PersistentFlags().StringVar(&legacyPath, "legacy", filepath.Join(home, ".agentcore", "auth.json"), "legacy single-account auth file, migrated if the pool file is absent")

	cmd.AddCommand(
		newStatusCmd(&poolPath, &legacyPath),
		newTokenCmd(&poolPath, &legacyPath),
		newRotateCmd(&poolPath, &legacyPath),
		newCooldownCmd(&poolPath, &legacyPath),
	)
	return cmd
}

func openManager(ctx context.Context, poolPath, legacyPath string) (*auth.Manager, error) {
	m, err := auth.NewManager(poolPath, legacyPath, nil)
	if err != nil {
		return nil, err
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	logging.Debug(ctx, "loaded auth pool", slog.String("path", poolPath))
	return m, nil
}

func newStatusCmd(poolPath, legacyPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the pool's account-availability snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager(cmd.Context(), *poolPath, *legacyPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m.AccountPoolSummary())
		},
	}
}

func newTokenCmd(poolPath, legacyPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a usable access token for the active account, refreshing if stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager(cmd.Context(), *poolPath, *legacyPath)
			if err != nil {
				return err
			}
			token, err := m.GetToken(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newRotateCmd(poolPath, legacyPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Advance the active account to the next available one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.WithComponent(cmd.Context(), "authctl")
			m, err := openManager(ctx, *poolPath, *legacyPath)
			if err != nil {
				return err
			}
			switched, err := m.SwitchToNextAccount()
			if err != nil {
				return err
			}
			if !switched {
				fmt.Fprintln(cmd.OutOrStdout(), "no account available to rotate to")
				return nil
			}
			logging.Info(ctx, "rotated active account")
			fmt.Fprintln(cmd.OutOrStdout(), "rotated")
			return nil
		},
	}
}

func newCooldownCmd(poolPath, legacyPath *string) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "cooldown",
		Short: "Stamp the active account with a rate-limit cooldown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.WithComponent(cmd.Context(), "authctl")
			m, err := openManager(ctx, *poolPath, *legacyPath)
			if err != nil {
				return err
			}
			if err := m.MarkCurrentRateLimited(duration); err != nil {
				return err
			}
			logging.Info(ctx, "marked account rate limited", slog.Duration("duration", duration))
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 60*time.Second, "cooldown duration")
	return cmd
}
