package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoravur/pglive/internal/app"
	"github.com/zoravur/pglive/internal/reactive"
)

func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <sql> [args...]",
		Short: "Print the operator tree compiled for a query",
		Long: `Compile a SELECT against the configured database and print its
operator tree. Extra arguments bind $1, $2, ... as text.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, reg, err := app.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			params := make([]any, len(args)-1)
			for i, a := range args[1:] {
				params[i] = a
			}
			op, err := reg.Query(cmd.Context(), args[0], params...)
			if err != nil {
				return err
			}
			defer reg.Release(op)
			fmt.Fprint(cmd.OutOrStdout(), reactive.Explain(op))
			return nil
		},
	}
	return cmd
}
