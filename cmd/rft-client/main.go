// Command rft-client drives an RFT server interactively from the
// shell: one subcommand per protocol command (spec.md §4.5;
// SPEC_FULL.md §2 item 10).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rft-go/rft"
)

func main() {
	os.Exit(run())
}

var serverAddr string

func run() int {
	rootCmd := &cobra.Command{
		Use:           "rft-client",
		Short:         "Talk to an RFT file-transfer server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server-addr", "", "RFT server address, host:port (required)")

	rootCmd.AddCommand(newReadCmd(), newWriteCmd(), newListCmd(), newDeleteCmd(), newStatCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rft-client: %v\n", err)
		return 1
	}
	return 0
}

func requireServerAddr() error {
	if serverAddr == "" {
		return fmt.Errorf("--server-addr is required")
	}
	return nil
}

// withConnection dials serverAddr, runs fn, and issues a graceful Exit
// before closing (spec.md §4.5, "Exit": "the server answers, then both
// sides drain and close").
func withConnection(ctx context.Context, fn func(ctx context.Context, conn *rft.Connection) error) error {
	if err := requireServerAddr(); err != nil {
		return err
	}
	conn, err := rft.Dial(ctx, serverAddr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", serverAddr, err)
	}
	defer conn.Close()

	if err := fn(ctx, conn); err != nil {
		return err
	}
	return conn.Exit(ctx)
}

func newReadCmd() *cobra.Command {
	var offset, length, crc uint64
	cmd := &cobra.Command{
		Use:   "read <remote-path> <local-path>",
		Short: "Download a remote file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnection(cmd.Context(), func(ctx context.Context, conn *rft.Connection) error {
				return conn.Read(ctx, args[0], args[1], offset, length, uint32(crc))
			})
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "starting byte offset")
	cmd.Flags().Uint64Var(&length, "length", 0, "bytes to read (0 means to EOF)")
	cmd.Flags().Uint64Var(&crc, "expected-crc", 0, "expected CRC-32 of the requested range (0 skips the check)")
	return cmd
}

func newWriteCmd() *cobra.Command {
	var offset, length, crc uint64
	cmd := &cobra.Command{
		Use:   "write <local-path> <remote-path>",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnection(cmd.Context(), func(ctx context.Context, conn *rft.Connection) error {
				return conn.Write(ctx, args[0], args[1], offset, length, uint32(crc))
			})
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "starting byte offset")
	cmd.Flags().Uint64Var(&length, "length", 0, "bytes to write (0 means the whole local file)")
	cmd.Flags().Uint64Var(&crc, "crc", 0, "CRC-32 of the uploaded range, checked server-side after writing")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <remote-dir>",
		Short: "List a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnection(cmd.Context(), func(ctx context.Context, conn *rft.Connection) error {
				entries, err := conn.List(ctx, args[0])
				if err != nil {
					return err
				}
				for _, e := range entries {
					kind := "f"
					if e.IsDir {
						kind = "d"
					}
					fmt.Fprintf(os.Stdout, "%s\t%10d\t%s\t%s\n", kind, e.Size, e.ModTime.Format("2006-01-02T15:04:05"), e.Name)
				}
				return nil
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <remote-path>",
		Short: "Delete a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnection(cmd.Context(), func(ctx context.Context, conn *rft.Connection) error {
				return conn.Delete(ctx, args[0])
			})
		},
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <remote-path>",
		Short: "Show metadata for a remote path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnection(cmd.Context(), func(ctx context.Context, conn *rft.Connection) error {
				st, err := conn.Stat(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "name:    %s\n", st.Name)
				fmt.Fprintf(os.Stdout, "size:    %d\n", st.Size)
				fmt.Fprintf(os.Stdout, "modtime: %s\n", st.ModTime.Format("2006-01-02T15:04:05"))
				fmt.Fprintf(os.Stdout, "dir:     %v\n", st.IsDir)
				if st.Blake3 != "" {
					fmt.Fprintf(os.Stdout, "blake3:  %s\n", st.Blake3)
				}
				return nil
			})
		},
	}
}
