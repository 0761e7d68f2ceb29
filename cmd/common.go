package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/anilymngl/codemind/pkg/config"
	"github.com/anilymngl/codemind/pkg/credentials"
	"github.com/anilymngl/codemind/pkg/events"
	"github.com/anilymngl/codemind/pkg/factory"
	"github.com/anilymngl/codemind/pkg/orchestrator"
	"github.com/anilymngl/codemind/pkg/utils"
)

// session is everything a command needs to drive the pipeline.
type session struct {
	cfg    *config.Config
	logger *utils.Logger
	runlog *utils.RunLogger
	bus    *events.Bus
	orch   *orchestrator.Orchestrator
}

func stdoutIsTerminal() bool { return term.IsTerminal(int(os.Stdout.Fd())) }
func stdinIsTerminal() bool  { return term.IsTerminal(int(os.Stdin.Fd())) }

// openStore returns the system keychain, or nil when none is available so
// credentials fall back to the environment alone.
func openStore(logger *utils.Logger) credentials.Store {
	store, err := credentials.OpenKeyring()
	if err != nil {
		logger.Warnf("%v", err)
		return nil
	}
	return store
}

// newSession loads config, applies flag overrides and wires the pipeline.
func newSession(override func(*config.Config)) (*session, error) {
	logger := utils.GetLogger()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if jsonLogs || cfg.JSONLogs {
		logger.SetJSON(true)
	}
	if cfg.Source != "" {
		logger.Logf("config loaded from %s", cfg.Source)
	}

	sess := &session{
		cfg:    cfg,
		logger: logger,
		runlog: utils.GetRunLogger(),
		bus:    events.NewBus(),
	}
	sess.orch, err = factory.NewOrchestrator(cfg, factory.Options{
		Logger:      logger,
		RunLogger:   sess.runlog,
		Bus:         sess.bus,
		Credentials: credentials.NewResolver(openStore(logger)),
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// readInput returns the joined args, or all of r when there are none.
func readInput(args []string, r io.Reader, interactive bool) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}
	if interactive {
		return "", nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// readCode reads path, or stdin for "-".
func readCode(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
