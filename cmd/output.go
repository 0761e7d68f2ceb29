package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/pterm/pterm"

	"github.com/anilymngl/codemind/pkg/events"
	"github.com/anilymngl/codemind/pkg/orchestrator"
	"github.com/anilymngl/codemind/pkg/prompts"
	"github.com/anilymngl/codemind/pkg/sandbox"
)

// printer renders results either decorated for a terminal or as plain
// text suitable for pipes.
type printer struct {
	out    io.Writer
	errOut io.Writer
	pretty bool
}

func (p printer) json(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.out, string(data))
	return err
}

func bullets(items []string) string {
	var list []pterm.BulletListItem
	for _, s := range items {
		list = append(list, pterm.BulletListItem{Level: 0, Text: s})
	}
	out, err := pterm.DefaultBulletList.WithItems(list).Srender()
	if err != nil {
		return ""
	}
	return out
}

func (p printer) result(res orchestrator.Result) {
	if !res.OK() {
		msg := prompts.QueryFailed(res.Failure.ErrorKind, res.Failure.Message)
		if p.pretty {
			fmt.Fprint(p.errOut, pterm.Error.Sprintln(msg))
		} else {
			fmt.Fprintln(p.errOut, msg)
		}
		return
	}

	s := res.Success
	if !p.pretty {
		fmt.Fprintln(p.out, s.Code)
		return
	}
	if len(s.Reasoning.ImplementationStrategy) > 0 {
		fmt.Fprint(p.out, pterm.DefaultSection.Sprintln("Plan"))
		fmt.Fprint(p.out, bullets(s.Reasoning.ImplementationStrategy))
	}
	if s.Reasoning.Metadata["fallback"] == "true" {
		fmt.Fprint(p.out, pterm.Warning.Sprintln(prompts.FallbackUsed("reasoning")))
	}
	if s.Synthesis.Metadata["fallback"] == "true" {
		fmt.Fprint(p.out, pterm.Warning.Sprintln(prompts.FallbackUsed("synthesis")))
	}
	fmt.Fprint(p.out, pterm.DefaultSection.Sprintln("Code"))
	fmt.Fprintln(p.out, s.Code)
	if s.Synthesis.Explanation != "" {
		fmt.Fprint(p.out, pterm.DefaultSection.Sprintln("Explanation"))
		fmt.Fprintln(p.out, s.Synthesis.Explanation)
	}
}

func (p printer) execution(r sandbox.ExecutionResult) {
	if !p.pretty {
		fmt.Fprint(p.out, r.Output)
		if r.Error != "" {
			fmt.Fprintln(p.errOut, r.Error)
		}
		return
	}
	fmt.Fprint(p.out, pterm.DefaultSection.Sprintln("Sandbox"))
	if r.Output != "" {
		fmt.Fprintln(p.out, r.Output)
	}
	summary := fmt.Sprintf("exit code %d in %.0fms", r.ExitCode, r.ExecutionTimeMS)
	if r.Success {
		fmt.Fprint(p.out, pterm.Success.Sprintln(summary))
		return
	}
	if r.Error != "" {
		fmt.Fprintln(p.errOut, r.Error)
	}
	fmt.Fprint(p.errOut, pterm.Error.Sprintln(summary))
}

// watchProgress shows a spinner that follows the query's phase events.
// The returned func stops it.
func watchProgress(bus *events.Bus) func() {
	spinner, err := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Reasoning...")
	if err != nil {
		return func() {}
	}
	const name = "cli-progress"
	ch := bus.Subscribe(name)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		streamed := 0
		for ev := range ch {
			switch ev.Type {
			case events.TypePhaseCompleted:
				if ev.Data["phase"] == "reasoning" {
					spinner.UpdateText("Synthesizing...")
				}
			case events.TypeStreamChunk:
				chunk, _ := ev.Data["chunk"].(string)
				streamed += len(chunk)
				spinner.UpdateText(fmt.Sprintf("Synthesizing... %d chars", streamed))
			}
		}
	}()

	return func() {
		bus.Unsubscribe(name)
		wg.Wait()
		spinner.Stop()
	}
}
