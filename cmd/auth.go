package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/credentials"
	"github.com/anilymngl/codemind/pkg/prompts"
	"github.com/anilymngl/codemind/pkg/utils"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage API keys in the system keychain",
	Long: `Stores API keys for gemini, anthropic and sandbox in the system keychain.
Environment variables (GEMINI_API_KEY, ANTHROPIC_API_KEY, SANDBOX_API_KEY) take
precedence over stored keys.`,
}

var authSetCmd = &cobra.Command{
	Use:       "set <provider>",
	Short:     "Store an API key",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), knownProvider),
	ValidArgs: credentials.Names,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := credentials.OpenKeyring()
		if err != nil {
			return apperr.Wrap(apperr.Configuration, "cannot store API key", err)
		}
		key, err := promptKey(cmd.ErrOrStderr(), args[0])
		if err != nil {
			return err
		}
		if err := store.Set(args[0], key); err != nil {
			return fmt.Errorf("store %s key: %w", args[0], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), prompts.APIKeyStored(args[0]))
		return nil
	},
}

var authDeleteCmd = &cobra.Command{
	Use:       "delete <provider>",
	Short:     "Remove a stored API key",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), knownProvider),
	ValidArgs: credentials.Names,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := credentials.OpenKeyring()
		if err != nil {
			return apperr.Wrap(apperr.Configuration, "cannot remove API key", err)
		}
		if err := store.Delete(args[0]); err != nil {
			return fmt.Errorf("delete %s key: %w", args[0], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), prompts.APIKeyDeleted(args[0]))
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where each API key is resolved from",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver := credentials.NewResolver(openStore(utils.GetLogger()))
		for _, name := range credentials.Names {
			_, src, err := resolver.APIKey(name)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s not set\n", name)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", name, src)
		}
		return nil
	},
}

func knownProvider(cmd *cobra.Command, args []string) error {
	if !credentials.Known(args[0]) {
		return apperr.NewValidation(fmt.Sprintf("unknown provider %q, expected one of %s", args[0], strings.Join(credentials.Names, ", ")))
	}
	return nil
}

// promptKey reads the key without echo on a terminal, or one line from a pipe.
func promptKey(w io.Writer, provider string) (string, error) {
	var raw string
	if stdinIsTerminal() {
		fmt.Fprint(w, prompts.EnterAPIKey(provider))
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		raw = string(b)
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		raw = line
	}

	key := strings.TrimSpace(raw)
	if key == "" {
		return "", apperr.NewValidation("no API key provided")
	}
	return key, nil
}

func init() {
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authDeleteCmd)
	authCmd.AddCommand(authStatusCmd)
}
