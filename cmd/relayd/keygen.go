package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"p2p-relay/internal/identity"
	"p2p-relay/internal/paths"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the node identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Node.DataDir, err = paths.EnsureDir(cfg.Node.DataDir); err != nil {
			return err
		}
		path := cfg.Node.IdentityPath()
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("identity already exists at %s (use --force to replace it)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		id, err := identity.Generate()
		if err != nil {
			return err
		}
		if err := id.Save(path); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "public key : %s\n", id.PublicKeyHex())
		fmt.Fprintf(out, "node id    : %s\n", id.NodeID().Hex())
		fmt.Fprintf(out, "saved to   : %s\n", path)
		return nil
	},
}

func init() {
	keygenCmd.Flags().Bool("force", false, "overwrite an existing identity")
}
