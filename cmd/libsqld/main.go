package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/asajjanshetty/libsql/cmd/libsqld/start"
	"github.com/asajjanshetty/libsql/utils/log"
)

// flagPrintVersion set flag to show the current libsqld version.
var flagPrintVersion bool

var version = "dev"

func main() {
	// c is the root command.
	c := &cobra.Command{
		Use: "libsqld",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagPrintVersion {
				log.Info("version: %v", version)
				return nil
			}
			return cmd.Usage()
		},
	}

	c.AddCommand(start.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	if err := c.Execute(); err != nil {
		os.Exit(1)
	}
}
