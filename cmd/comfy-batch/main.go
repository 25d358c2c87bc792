// comfy-batch submits a batch of ComfyUI workflow runs described by a spec
// file and waits for every run to finish.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ryabkov82/comfy-batch/internal/style"
	"github.com/ryabkov82/comfy-batch/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit signals a non-zero exit after the command already wrote its own
// message to stderr.
var errExit = errors.New("exit")

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "%s: %v\n", version.Name, err)
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags runFlags

	root := &cobra.Command{
		Use:           version.Name + " <spec-file>",
		Short:         "Run a batch of ComfyUI workflows from a prompt spec file",
		Version:       version.Short(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return style.SetColorMode(flags.color)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				fmt.Fprintf(stderr, "Usage: %s\n", cmd.UseLine())
				return errExit
			}
			return runBatch(cmd, args[0], &flags, stdout, stderr)
		},
	}
	root.SetVersionTemplate(version.Name + " {{.Version}}\n")

	flags.register(root)
	return root
}
