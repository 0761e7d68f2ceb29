package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/prompts"
)

var sandboxJSON bool

var sandboxCmd = &cobra.Command{
	Use:   "sandbox <file|->",
	Short: "Run a Python file in the sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := readCode(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		if strings.TrimSpace(code) == "" {
			return apperr.NewValidation(prompts.CodeRequired())
		}

		sess, err := newSession(nil)
		if err != nil {
			return err
		}
		p := printer{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), pretty: stdoutIsTerminal() && !sandboxJSON}

		res := sess.orch.RunSandbox(cmd.Context(), code)
		if sandboxJSON {
			if err := p.json(res); err != nil {
				return err
			}
		} else {
			p.execution(res)
		}
		if !res.Success {
			return errReported
		}
		return nil
	},
}

func init() {
	sandboxCmd.Flags().BoolVar(&sandboxJSON, "json", false, "print the execution result as JSON")
}
