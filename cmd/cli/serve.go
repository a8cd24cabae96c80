package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/coopmesh-project/coopmesh/pkg/config"
	"github.com/coopmesh-project/coopmesh/pkg/logger"
	"github.com/coopmesh-project/coopmesh/pkg/node"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a coopmesh node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd)
		},
	}

	registerServeFlags(serveCmd.Flags())
	return serveCmd
}

func registerServeFlags(flags *pflag.FlagSet) {
	flags.String("node-id", "", "Identity this node publishes under, defaults to the libp2p peer ID")
	flags.String("data-dir", config.Default.DataDir, "Directory to store node state in")
	flags.Int("port", config.Default.Libp2p.Port, "TCP port for the libp2p host")
	flags.StringSlice("peer", nil, "Multiaddrs of peers to connect to at startup")

	for flagName, configKey := range map[string]string{
		"node-id":  "node_id",
		"data-dir": "data_dir",
		"port":     "libp2p.port",
		"peer":     "libp2p.peers",
	} {
		if err := viper.BindPFlag(configKey, flags.Lookup(flagName)); err != nil {
			panic(err)
		}
	}
}

func serve(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(cfg.DataDir, 0o755); err != nil { //nolint:gomnd
		return errors.Wrap(err, "failed to create data directory")
	}

	n, err := node.NewNode(ctx, cfg)
	if err != nil {
		return err
	}
	ctx = logger.ContextWithNodeIDLogger(ctx, n.ID)

	if err = n.Start(ctx); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Strs("Addresses", hostAddresses(n)).Msg("node listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Ctx(ctx).Info().Str("Signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}
	return n.Stop(ctx)
}

func hostAddresses(n *node.Node) []string {
	addresses := make([]string, 0, len(n.Host.Addrs()))
	for _, addr := range n.Host.Addrs() {
		addresses = append(addresses, addr.String()+"/p2p/"+n.Host.ID().String())
	}
	return addresses
}

func loadConfig(cmd *cobra.Command) (config.CoopmeshConfig, error) {
	cfg := config.Default

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return cfg, errors.Wrap(err, "failed to read config file")
		}
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to parse configuration")
	}
	return cfg, nil
}
