package cmd

import (
	"github.com/spf13/cobra"

	"github.com/anilymngl/codemind/pkg/config"
	"github.com/anilymngl/codemind/pkg/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and websocket event stream",
	Long: `Serves POST /api/query, POST /api/run_sandbox, GET /api/history, GET /api/stats,
GET /health and the /ws event stream until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(func(c *config.Config) {
			if serveAddr != "" {
				c.Server.Addr = serveAddr
			}
		})
		if err != nil {
			return err
		}
		sess.logger.SetConsole(cmd.ErrOrStderr())

		srv := server.New(sess.orch, sess.bus, sess.logger, sess.cfg.Server.Addr, sess.cfg.Server.ShutdownTimeout)
		return srv.Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}
