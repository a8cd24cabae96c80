package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/coopmesh-project/coopmesh/pkg/logger"
)

const environmentVariablePrefix = "COOPMESH"

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coopmesh",
		Short: "Run and use a federated compute marketplace",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.ConfigureLogging()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a config file")

	viper.SetEnvPrefix(environmentVariablePrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}
