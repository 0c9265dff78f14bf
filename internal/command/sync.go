package command

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/studiovault/internal/collection"
)

type reportJSON struct {
	Collection string `json:"collection"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
	Remaining  int    `json:"remaining"`
	Error      string `json:"error,omitempty"`
}

func writeReports(cmd *cobra.Command, jsonMode bool, reports []collection.SyncReport) error {
	if jsonMode {
		out := make([]reportJSON, 0, len(reports))
		for _, rep := range reports {
			r := reportJSON{
				Collection: rep.Collection,
				Processed:  rep.Flush.Processed,
				Failed:     rep.Flush.Failed,
				Remaining:  rep.Flush.Remaining,
			}
			if rep.Err != nil {
				r.Error = rep.Err.Error()
			}
			out = append(out, r)
		}
		return writeJSON(cmd, out)
	}
	w := cmd.OutOrStdout()
	for _, rep := range reports {
		writeReport(w, rep)
	}
	return nil
}

func writeReport(w io.Writer, rep collection.SyncReport) {
	fmt.Fprintf(w, "%-12s replayed %d, remaining %d", rep.Collection, rep.Flush.Processed, rep.Flush.Remaining)
	if rep.Flush.Failed > 0 {
		fmt.Fprintf(w, ", %d failed", rep.Flush.Failed)
	}
	if rep.Err != nil {
		fmt.Fprintf(w, "  error: %s", rep.Err)
	}
	fmt.Fprintln(w)
}

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes and pull every collection from the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			reports, err := ctx.Vault.Registry.BroadcastSync(cmd.Context())
			if werr := writeReports(cmd, ctx.JSONMode, reports); werr != nil {
				return werr
			}
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}
}

// NewFlushCmd creates the flush command.
func NewFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Replay queued changes without pulling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			reports, err := ctx.Vault.Registry.FlushAll(cmd.Context())
			if werr := writeReports(cmd, ctx.JSONMode, reports); werr != nil {
				return werr
			}
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue depth and collection counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			for _, c := range ctx.Vault.Collections() {
				if _, err := c.Len(cmd.Context()); err != nil {
					return writeCommandError(cmd, err)
				}
			}
			st := ctx.Vault.Status()
			if ctx.JSONMode {
				return writeJSON(cmd, st)
			}

			w := cmd.OutOrStdout()
			mode := "online"
			if !st.Online {
				mode = "offline"
			}
			owner := st.OwnerID
			if owner == "" {
				owner = "(signed out)"
			}
			fmt.Fprintf(w, "Remote:  %s (%s)\n", st.Remote, mode)
			fmt.Fprintf(w, "Owner:   %s\n", owner)
			fmt.Fprintf(w, "Queued:  %s operations", humanize.Comma(int64(st.Queue.Total)))
			if st.Queue.Retrying > 0 {
				fmt.Fprintf(w, " (%d retrying)", st.Queue.Retrying)
			}
			fmt.Fprintln(w)
			for _, cs := range st.Collections {
				fmt.Fprintf(w, "  %-12s %-8s %s records, %d pending, %d failed\n",
					cs.ID, cs.Type, humanize.Comma(int64(cs.Items)), cs.Pending, cs.Failed)
			}
			return nil
		},
	}
}
