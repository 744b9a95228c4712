package main

import (
	"github.com/spf13/cobra"
)

type serverOptions struct {
	configPath  string
	port        int
	frontendDir string
	dev         bool
	mock        bool
	debug       bool
}

func rootCmd() *cobra.Command {
	opts := &serverOptions{}

	c := &cobra.Command{
		Use:     "fiscalyze-server",
		Short:   "Invoice analysis backend: supervised engine runs streamed live to WebSocket observers",
		Example: "fiscalyze-server --config config.yaml --port 8000",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(opts)
		},
	}

	c.Flags().StringVar(&opts.configPath, "config", "config.yaml", "Path to config file")
	c.Flags().IntVar(&opts.port, "port", 0, "Override server port")
	c.Flags().StringVar(&opts.frontendDir, "frontend", "frontend", "Frontend directory for dev mode")
	c.Flags().BoolVar(&opts.dev, "dev", false, "Development mode (serve frontend from filesystem)")
	c.Flags().BoolVar(&opts.mock, "mock", false, "Use the built-in mock engine instead of the configured one")
	c.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logs")

	return c
}
