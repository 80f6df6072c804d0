package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"p2p-relay/internal/peers"
	"p2p-relay/internal/storeforward"
)

var safCmd = &cobra.Command{
	Use:   "saf",
	Short: "Inspect the store-and-forward database (node must be stopped)",
}

var safListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored messages, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		repo, err := storeforward.OpenBolt(cfg.Node.SAFPath())
		if err != nil {
			return err
		}
		defer repo.Close()

		var from time.Time
		if since > 0 {
			from = time.Now().Add(-since)
		}
		msgs, err := repo.List(cmd.Context(), from, limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTORED\tPRIORITY\tTYPE\tDESTINATION\tENCRYPTED\tBYTES")
		for _, m := range msgs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%d\n",
				m.ID, m.StoredAt.Format(time.RFC3339), m.Priority, m.MessageType,
				destination(m), m.IsEncrypted, len(m.Body))
		}
		return w.Flush()
	},
}

var safGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete stored messages past their retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		repo, err := storeforward.OpenBolt(cfg.Node.SAFPath())
		if err != nil {
			return err
		}
		defer repo.Close()

		before, err := repo.Count()
		if err != nil {
			return err
		}
		svc := storeforward.NewService(cfg.Node.StoreForward, nil, nil, repo, nil, nil, nil)
		if err := svc.Cleanup(cmd.Context(), time.Now()); err != nil {
			return err
		}
		after, err := repo.Count()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d of %d stored messages\n", before-after, before)
		return nil
	},
}

func destination(m storeforward.StoredMessage) string {
	switch {
	case m.DestinationPublicKey != nil:
		return "pk:" + peers.ShortKey(m.DestinationPublicKey)
	case m.DestinationNodeID != nil:
		return "id:" + m.DestinationNodeID.String()
	}
	return "-"
}

func init() {
	safListCmd.Flags().Duration("since", 0, "only messages stored within this window")
	safListCmd.Flags().Int("limit", 100, "maximum rows")
}
