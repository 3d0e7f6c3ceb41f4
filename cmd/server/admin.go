package main

import (
	"encoding/base64"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tus-upload-server/backend/internal/session"
	"github.com/tus-upload-server/backend/internal/upload"
)

// openStoreApp opens the app for a command that works on sessions held by a
// server. Memory sessions exist only inside that server process.
func openStoreApp(configPath, command string) (*app, error) {
	a, err := openApp(configPath)
	if err != nil {
		return nil, err
	}
	if a.cfg.SessionStore.Driver == session.DriverMemory {
		a.Close()
		return nil, fmt.Errorf("%s requires a persistent session store (duckdb or leveldb), configured driver is %q",
			command, a.cfg.SessionStore.Driver)
	}
	return a, nil
}

func newCleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired uploads and their content",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(*configPath, "cleanup")
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.engine.CleanupExpiredSessions(cmd.Context())
			if err != nil {
				return err
			}

			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No expired uploads found.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleaned up %d expired uploads.\n", n)
			}
			return nil
		},
	}
}

func newUploadsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "uploads",
		Short: "List incomplete uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStoreApp(*configPath, "uploads")
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.engine.ListIncomplete(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No incomplete uploads.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "UPLOAD ID\tFILENAME\tOFFSET\tSIZE\tPROGRESS\tEXPIRES")
			for _, u := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.1f%%\t%s\n",
					u.UploadID, u.Filename, u.Offset, u.Size, u.Progress()*100,
					u.ExpiredTime.UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newVerifyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <upload-id> <algorithm> <base64-digest>",
		Short: "Check stored upload content against a digest",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploadID, algorithm, encoded := args[0], args[1], args[2]

			if !upload.IsSupportedChecksum(algorithm) {
				return fmt.Errorf("unsupported algorithm %q (supported: %v)", algorithm, upload.SupportedChecksumAlgorithms)
			}
			digest, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return fmt.Errorf("digest is not valid base64: %w", err)
			}

			a, err := openStoreApp(*configPath, "verify")
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.engine.GetSession(cmd.Context(), uploadID)
			if err != nil {
				return err
			}
			if !a.engine.ValidateChecksum(u, digest, algorithm) {
				return fmt.Errorf("checksum mismatch for upload %s", uploadID)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Checksum OK (%s)\n", algorithm)
			return nil
		},
	}
}
