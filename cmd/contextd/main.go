// Command contextd serves tiered conversation memory and prompt assembly.
package main

// @title contextd API
// @version 1.0
// @description Tiered conversation memory and prompt assembly for family assistants.

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /
// @schemes http https

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "contextd",
		Short:         "Tiered conversation memory and prompt assembly service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug mode")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newPromptCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
