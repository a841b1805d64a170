package main

import (
	"github.com/spf13/cobra"

	"github.com/zoravur/pglive/internal/app"
)

type ServeOptions struct {
	*RootOptions
	Addr string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			if opts.Addr != "" {
				cfg.Addr = opts.Addr
			}

			srv, err := app.NewServer(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, overrides the config")

	return cmd
}
