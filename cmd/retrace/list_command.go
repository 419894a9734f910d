package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"retrace/internal/catalog"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		sync          bool
		asJSON        bool
		sessionID     string
		participantID string
		limit         int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List catalogued recordings",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openCatalog()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if sync {
				res, err := store.Sync(cmd.Context(), cfg.Paths.RecordingsDir)
				if err != nil {
					return err
				}
				if !asJSON {
					fmt.Fprintf(out, "Synced %s: %d added, %d pruned, %d incomplete\n",
						cfg.Paths.RecordingsDir, res.Added, res.Pruned, res.Incomplete)
				}
			}

			entries, err := store.List(cmd.Context(), catalog.Filter{
				SessionID:     sessionID,
				ParticipantID: participantID,
				Limit:         limit,
			})
			if err != nil {
				return err
			}
			if asJSON {
				if entries == nil {
					entries = []catalog.Entry{}
				}
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No recordings catalogued")
				return nil
			}
			fmt.Fprintln(out, renderCatalogTable(cfg.Paths.RecordingsDir, entries))
			return nil
		},
	}

	cmd.Flags().BoolVar(&sync, "sync", false, "Scan the recordings directory before listing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&sessionID, "session", "", "Only list this session")
	cmd.Flags().StringVar(&participantID, "participant", "", "Only list this participant")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of recordings to list")
	return cmd
}

func renderCatalogTable(root string, entries []catalog.Entry) string {
	headers := []string{"ID", "Session", "Participant", "Started", "Length", "Frames", "Keyframes", "Capture", "Folder"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft}
	rows := make([][]string, 0, len(entries))
	var frames uint64
	for _, e := range entries {
		frames += e.Frames
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.SessionID,
			e.ParticipantID,
			formatTimestamp(e.StartedAt),
			e.Duration().Round(time.Millisecond).String(),
			strconv.FormatUint(e.Frames, 10),
			strconv.Itoa(e.Keyframes),
			titleLabel(e.Capture),
			displayDir(root, e.Dir),
		})
	}
	footer := []string{fmt.Sprintf("%d recordings", len(entries)), "", "", "", "", strconv.FormatUint(frames, 10)}
	return renderTable(headers, rows, aligns, footer...)
}
