package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"p2p-relay/internal/config"
	"p2p-relay/internal/paths"
)

var rootCmd = &cobra.Command{
	Use:   "relayd",
	Short: "Peer-to-peer message relay node",
	Long: `relayd routes messages between peers by public key or node id.

Messages for peers that cannot be reached are kept and handed over when
they ask their neighbours for stored messages.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		_, err := config.LoadDotEnv(files...)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().String("data", "", "data directory (default $RELAY_DATA_DIR or "+paths.DefaultDataDir()+")")
	rootCmd.PersistentFlags().String("env-file", "", ".env file to load before reading RELAY_ variables")

	rootCmd.AddCommand(keygenCmd, runCmd, safCmd)
	safCmd.AddCommand(safListCmd, safGCCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
