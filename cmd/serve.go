package main

import (
	srv "github.com/askrepo/askrepo/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return srv.Run(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to server.address)")

	return serve
}
