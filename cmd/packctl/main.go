// Command packctl signs, verifies, installs, and rolls back knowledge-pack
// bundles against a local pipeline store.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/entirecore/agentcore/internal/logging"
	"github.com/entirecore/agentcore/internal/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var storeRoot string

	cmd := &cobra.Command{
		Use:   "packctl",
		Short: "Sign, verify, install, and roll back knowledge packs",
	}
	cmd.PersistentFlags().StringVar(&storeRoot, "store", defaultStoreRoot(), "pipeline store directory")

	cmd.AddCommand(
		newSignCmd(&storeRoot),
		newVerifyCmd(&storeRoot),
		newInstallCmd(&storeRoot),
		newRollbackCmd(&storeRoot),
	)
	return cmd
}

func defaultStoreRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.agentcore/packs"
	}
	return ".agentcore/packs"
}

func newSignCmd(storeRoot *string) *cobra.Command {
	var name, version, sourceDir, signer, notes, keyPath string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a source directory into a bundle and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.WithComponent(cmd.Context(), "packctl")

			key, err := loadSigningKey(keyPath)
			if err != nil {
				return err
			}

			store, err := pipeline.Open(*storeRoot)
			if err != nil {
				return err
			}

			result, err := store.SignAndStore(pipeline.SignParams{
				Name:       name,
				Version:    version,
				SourceDir:  sourceDir,
				SigningKey: key,
				Signer:     signer,
				Actor:      actorFromEnv(),
				Timestamp:  time.Now().UTC(),
				Notes:      notes,
			})
			if err != nil {
				return err
			}

			logging.Info(ctx, "signed knowledge pack",
				slog.String("name", name), slog.String("version", version),
				slog.String("fingerprint", pipeline.Fingerprint(key.Public().(ed25519.PublicKey))))

			return printJSON(cmd, result.Manifest)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "pack name")
	cmd.Flags().StringVar(&version, "version", "", "semantic version")
	cmd.Flags().StringVar(&sourceDir, "source", "", "directory to sign")
	cmd.Flags().StringVar(&signer, "signer", "", "signer identity recorded in the signature")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form release notes")
	cmd.Flags().StringVar(&keyPath, "key", "", "path to a raw 32-byte Ed25519 seed (generated if absent)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newVerifyCmd(storeRoot *string) *cobra.Command {
	var bundlePath, expectedFingerprint string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a bundle's signature and payload without installing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := pipeline.Open(*storeRoot)
			if err != nil {
				return err
			}
			result, err := store.VerifyAndInstall(pipeline.InstallParams{
				BundlePath:             bundlePath,
				ExpectedFingerprint:    expectedFingerprint,
				HasExpectedFingerprint: expectedFingerprint != "",
				Install:                false,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVar(&bundlePath, "bundle", "", "path to a .tar.gz bundle")
	cmd.Flags().StringVar(&expectedFingerprint, "fingerprint", "", "require this signer fingerprint")
	_ = cmd.MarkFlagRequired("bundle")
	return cmd
}

func newInstallCmd(storeRoot *string) *cobra.Command {
	var bundlePath, expectedFingerprint string
	var force bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Verify and install a bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.WithComponent(cmd.Context(), "packctl")

			store, err := pipeline.Open(*storeRoot)
			if err != nil {
				return err
			}
			result, err := store.VerifyAndInstall(pipeline.InstallParams{
				BundlePath:             bundlePath,
				ExpectedFingerprint:    expectedFingerprint,
				HasExpectedFingerprint: expectedFingerprint != "",
				Install:                true,
				ForceInstall:           force,
				Actor:                  actorFromEnv(),
			})
			if err != nil {
				return err
			}

			logging.Info(ctx, "installed knowledge pack",
				slog.String("name", result.Manifest.Name), slog.String("version", result.Manifest.Version),
				slog.String("previous", result.PreviousVersion))

			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVar(&bundlePath, "bundle", "", "path to a .tar.gz bundle")
	cmd.Flags().StringVar(&expectedFingerprint, "fingerprint", "", "require this signer fingerprint")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an already-installed version")
	_ = cmd.MarkFlagRequired("bundle")
	return cmd
}

func newRollbackCmd(storeRoot *string) *cobra.Command {
	var name, version string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Move a pack's active-version pointer to an already-installed version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.WithComponent(cmd.Context(), "packctl")

			store, err := pipeline.Open(*storeRoot)
			if err != nil {
				return err
			}
			if err := store.Rollback(pipeline.RollbackParams{Name: name, Version: version, Actor: actorFromEnv()}); err != nil {
				return err
			}
			logging.Info(ctx, "rolled back knowledge pack", slog.String("name", name), slog.String("version", version))
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now at %s\n", name, version)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "pack name")
	cmd.Flags().StringVar(&version, "version", "", "version to roll back to")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func loadSigningKey(path string) (ed25519.PrivateKey, error) {
	if path == "" {
		_, priv, err := ed25519.GenerateKey(nil)
		return priv, err
	}
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		decoded, decErr := base64.RawURLEncoding.DecodeString(string(seed))
		if decErr != nil || len(decoded) != ed25519.SeedSize {
			return nil, fmt.Errorf("signing key at %s is not a raw or base64url-encoded %d-byte seed", path, ed25519.SeedSize)
		}
		seed = decoded
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func actorFromEnv() string {
	if actor := os.Getenv("AGENTCORE_ACTOR"); actor != "" {
		return actor
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "packctl"
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
