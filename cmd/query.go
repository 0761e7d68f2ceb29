package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/config"
	"github.com/anilymngl/codemind/pkg/orchestrator"
	"github.com/anilymngl/codemind/pkg/prompts"
)

// errReported marks a failure the command already printed.
var errReported = errors.New("failure already reported")

var (
	queryStream   bool
	queryThinking bool
	queryJSON     bool
	querySandbox  bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Plan and generate code for a query",
	Long: `Runs the query through the reasoning and synthesis models and prints the
generated code. The query is read from stdin when no argument is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := readInput(args, cmd.InOrStdin(), stdinIsTerminal())
		if err != nil {
			return err
		}
		if query == "" {
			return apperr.NewValidation(prompts.QueryRequired())
		}

		flags := cmd.Flags()
		sess, err := newSession(func(c *config.Config) {
			if flags.Changed("stream") {
				c.Orchestrator.UseStreaming = queryStream
			}
			if flags.Changed("thinking") {
				c.Orchestrator.UseThinkingModel = queryThinking
			}
		})
		if err != nil {
			return err
		}

		p := printer{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), pretty: stdoutIsTerminal() && !queryJSON}
		stop := func() {}
		if p.pretty {
			stop = watchProgress(sess.bus)
		}
		res := sess.orch.ProcessQuery(cmd.Context(), query, nil)
		stop()

		if queryJSON {
			out := map[string]any{"result": orchestrator.FilterSensitive(res)}
			if res.OK() && querySandbox {
				out["sandbox"] = sess.orch.RunSandbox(cmd.Context(), res.Success.Code)
			}
			if err := p.json(out); err != nil {
				return err
			}
			if !res.OK() {
				return errReported
			}
			return nil
		}

		p.result(res)
		if !res.OK() {
			return errReported
		}
		if querySandbox {
			run := sess.orch.RunSandbox(cmd.Context(), res.Success.Code)
			p.execution(run)
			if !run.Success {
				return errReported
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "stream the synthesis reply")
	queryCmd.Flags().BoolVar(&queryThinking, "thinking", false, "ask the reasoning model for its thoughts")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the full result as JSON")
	queryCmd.Flags().BoolVar(&querySandbox, "sandbox", false, "run the generated code in the sandbox")
}
