// Command rft-server runs an RFT file-transfer server confined to a
// root directory (spec.md §6; SPEC_FULL.md §2 item 10).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rft-go/rft"
	"github.com/rft-go/rft/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		addr        string
		root        string
		metricsAddr string
	)

	rootCmd := &cobra.Command{
		Use:           "rft-server",
		Short:         "Serve files over RFT (Robust File Transfer)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root == "" {
				return errors.New("--root is required")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
					}
				}()
				go func() {
					<-ctx.Done()
					_ = srv.Close()
				}()
			}

			server, err := rft.Listen(ctx, addr, &rft.Config{ServerRoot: root})
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			defer server.Close()

			fmt.Fprintf(os.Stdout, "rft-server: listening on %s, root %s\n", server.LocalAddr(), root)

			for {
				// Accepted connections are already driven by their own
				// goroutine inside the endpoint; Server.Close (deferred
				// above) tears every one of them down on shutdown.
				_, err := server.Accept(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Fprintf(os.Stderr, "accept: %v\n", err)
					continue
				}
			}
		},
	}

	rootCmd.Flags().StringVar(&addr, "addr", ":9441", "address to listen on")
	rootCmd.Flags().StringVar(&root, "root", "", "directory to serve files from (required)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rft-server: %v\n", err)
		return 1
	}
	return 0
}
