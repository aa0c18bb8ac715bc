package main

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nutri-snap-go/pkg/client"
)

type commandContext struct {
	server     string
	token      string
	httpClient *http.Client
}

func (c *commandContext) client() (*client.Client, error) {
	if c.server == "" {
		return nil, errors.New("server address is required (--server or NUTRI_SERVER)")
	}
	if c.token == "" {
		return nil, errors.New("token is required (--token or NUTRI_TOKEN)")
	}
	return client.New(c.server, c.token, c.httpClient), nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "nutrictl",
		Short:         "Upload food photos and inspect nutrition results",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.server, "server", envOr("NUTRI_SERVER", "http://localhost:8080"), "API server base URL")
	rootCmd.PersistentFlags().StringVar(&ctx.token, "token", os.Getenv("NUTRI_TOKEN"), "Bearer token")

	rootCmd.AddCommand(newUploadCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newDeleteCommand(ctx))
	rootCmd.AddCommand(newSearchCommand(ctx))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

const defaultPollInterval = 500 * time.Millisecond
