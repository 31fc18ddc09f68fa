package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/jimmicro/version"
	"github.com/jimyag/jva/internal/jva"
	"github.com/jimyag/jva/internal/jva/config"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "jva",
		Short:         "Volume attachment control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("JVA_CONFIG"), "path to the YAML config file")

	cmd.AddCommand(newHashTokenCommand())
	return cmd
}

func runServer(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	server, err := jva.New(cfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	return server.Run(ctx)
}

// newHashTokenCommand 生成写入 auth.tokens[].hash 的 bcrypt 哈希
func newHashTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token TOKEN",
		Short: "Print the bcrypt hash of an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := policy.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
