// Command applypatch is the standalone entry point for the apply_patch tool
// call: it reads a patch envelope from stdin (or a heredoc-wrapped shell
// command given as its single argument) and applies it to the current
// working directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/entirecore/agentcore/internal/logging"
	"github.com/entirecore/agentcore/internal/patch"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "apply_patch",
		Aliases: []string{"applypatch"},
		Short:   "Apply a patch envelope to the local filesystem",
		Long: `Parse a patch envelope (Begin/End Patch with Add/Delete/Update File
hunks) and apply it transactionally to the current directory.

The envelope is read from stdin by default. If the single positional
argument looks like a full shell command (e.g. produced by a tool call that
wraps the invocation in "bash -lc '...'"), the heredoc body is extracted from
it instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "render the report as JSON instead of text")
	return cmd
}

func run(ctx context.Context, stdin io.Reader, stdout io.Writer, args []string, jsonOutput bool) error {
	body, workingDir, err := resolveBody(stdin, args)
	if err != nil {
		return err
	}

	hunks, err := patch.Parse(body)
	if err != nil {
		return fmt.Errorf("parsing patch: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}
	if workingDir != "" {
		cwd = resolveWorkingDir(cwd, workingDir)
	}

	reader := patch.OSFileReader{Root: cwd}
	changes, summaries, err := patch.Plan(hunks, reader)
	if err != nil {
		return fmt.Errorf("planning patch: %w", err)
	}

	executor := patch.NewExecutor(cwd)
	report, err := executor.Apply(logging.WithComponent(ctx, "applypatch"), changes, summaries)
	if err != nil {
		var execErr *patch.ExecutionError
		if errors.As(err, &execErr) && execErr.Report != nil {
			printReport(stdout, execErr.Report, jsonOutput)
		}
		return err
	}

	printReport(stdout, report, jsonOutput)
	return nil
}

func resolveBody(stdin io.Reader, args []string) (string, string, error) {
	if len(args) == 1 {
		inv, err := patch.ExtractInvocation(args[0])
		if err != nil {
			return "", "", err
		}
		return inv.Body, inv.WorkingDir, nil
	}
	raw, err := io.ReadAll(stdin)
	if err != nil {
		return "", "", fmt.Errorf("reading patch from stdin: %w", err)
	}
	return string(raw), "", nil
}

// resolveWorkingDir resolves a cd target extracted from the invocation
// against cwd, the way a shell would for a relative path.
func resolveWorkingDir(cwd, target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(cwd, target)
}

func printReport(w io.Writer, report *patch.Report, jsonOutput bool) {
	if jsonOutput {
		data, err := report.JSON()
		if err != nil {
			fmt.Fprintf(w, "failed to render JSON report: %v\n", err)
			return
		}
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprint(w, report.Text())
}
