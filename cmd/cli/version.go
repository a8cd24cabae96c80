package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coopmesh-project/coopmesh/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of this client",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "coopmesh %s (%s) built %s %s/%s\n",
				info.GitVersion, info.GitCommit, info.BuildDate, info.GOOS, info.GOARCH)
			return err
		},
	}
}
