package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"p2p-relay/internal/envelope"
	"p2p-relay/internal/identity"
	"p2p-relay/internal/metrics"
	"p2p-relay/internal/node"
	"p2p-relay/internal/outbound"
	"p2p-relay/internal/paths"
	"p2p-relay/internal/peers"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Node.DataDir, err = paths.EnsureDir(cfg.Node.DataDir); err != nil {
			return err
		}
		id, created, err := identity.LoadOrGenerate(cfg.Node.IdentityPath())
		if err != nil {
			return fmt.Errorf("load identity: %w", err)
		}
		logger, err := newLogger(cfg, id)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		if created {
			logger.Info("generated new identity", zap.String("path", cfg.Node.IdentityPath()))
		}

		var m metrics.Metrics = metrics.NoopMetrics{}
		if cfg.MetricsAddr != "" {
			reg := prometheus.NewRegistry()
			m = metrics.NewPromMetrics(reg)
			srv := &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server stopped", zap.Error(err))
				}
			}()
			defer srv.Close()
		}

		tr, err := newTransport(cfg.Transport, id, logger)
		if err != nil {
			return err
		}
		n, err := node.New(cfg.Node, id, tr, logger, m)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := n.Start(ctx); err != nil {
			_ = n.Stop()
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "relay %s listening on %s (%s)\n", id.PublicKeyHex(), n.ListenAddr(), cfg.Transport)
		fmt.Fprintf(out, "seed entry: %s@%s\n", id.PublicKeyHex(), n.ListenAddr())

		go printMessages(ctx, out, n)
		if console, _ := cmd.Flags().GetBool("console"); console {
			go runConsole(ctx, cmd.InOrStdin(), out, n)
		}

		<-ctx.Done()
		logger.Info("shutting down")
		return n.Stop()
	},
}

func init() {
	f := runCmd.Flags()
	f.String("listen", "", "listen address (default $RELAY_LISTEN_ADDR)")
	f.StringSlice("bootstrap", nil, "seed peers as <pubkey-hex>@<addr>")
	f.String("transport", "", "tcp or quic (default $RELAY_TRANSPORT)")
	f.String("metrics", "", "serve prometheus metrics on this address")
	f.Bool("console", false, "read 'send <pubkey-hex> <text>' lines from stdin")
}

func printMessages(ctx context.Context, out io.Writer, n *node.Node) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-n.Messages():
			from := "anonymous"
			if m.Origin != nil {
				from = peers.ShortKey(m.Origin)
			}
			fmt.Fprintf(out, "[%s via %s] %s\n", from, m.Relay.NodeID, m.Body)
		}
	}
}

func runConsole(ctx context.Context, in io.Reader, out io.Writer, n *node.Node) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		parts := strings.SplitN(strings.TrimSpace(scanner.Text()), " ", 3)
		if len(parts) < 3 || parts[0] != "send" {
			fmt.Fprintln(out, "usage: send <pubkey-hex> <text>")
			continue
		}
		pub, err := peers.ParsePublicKeyHex(parts[1])
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		res := n.Send(ctx, envelope.ToPublicKey(pub), outbound.EncryptFor(pub), []byte(parts[2]))
		fmt.Fprintf(out, "%s\n", res.Status)
	}
}
