package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"retrace/internal/transfer"
)

func newTransferCommand(ctx *commandContext) *cobra.Command {
	transferCmd := &cobra.Command{
		Use:   "transfer",
		Short: "Send recordings to, or receive them on, another machine",
	}
	transferCmd.AddCommand(newTransferServeCommand(ctx))
	transferCmd.AddCommand(newTransferPushCommand(ctx))
	return transferCmd
}

func newTransferServeCommand(ctx *commandContext) *cobra.Command {
	var listen, saveDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive pushed logs until interrupted",
		Long: `Serve accepts pushes from other machines and appends their rows to
{save_dir}/{origin}_transform_data.csv and {save_dir}/{origin}_ui_event_data.csv.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			addr := firstNonEmpty(listen, cfg.Transfer.Listen)
			dir := firstNonEmpty(saveDir, cfg.Transfer.SaveDir)
			if dir == "" {
				return errors.New("save folder is required (--dir or transfer.save_dir)")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Receiving on %s%s into %s\n", addr, transfer.DefaultPath, dir)
			return transfer.Serve(cmd.Context(), addr, transfer.NewReceiver(dir, logger), logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (defaults to transfer.listen)")
	cmd.Flags().StringVar(&saveDir, "dir", "", "Save folder (defaults to transfer.save_dir)")
	return cmd
}

func newTransferPushCommand(ctx *commandContext) *cobra.Command {
	var (
		latest    bool
		url       string
		origin    string
		batchSize int
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "push [folder]",
		Short: "Push a recording's transform and UI logs to a receiver",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			rec, err := resolveRecording(cfg, arg, latest)
			if err != nil {
				return err
			}
			target := firstNonEmpty(url, cfg.Transfer.URL)
			if target == "" {
				return errors.New("receiver url is required (--url or transfer.url)")
			}
			if batchSize <= 0 {
				batchSize = cfg.Transfer.BatchSize
			}

			pushCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			sender, err := transfer.Dial(pushCtx, target, firstNonEmpty(origin, cfg.Transfer.Origin), transfer.DialOptions{
				BatchSize: batchSize,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			defer sender.Close()

			res, err := sender.SendRecording(pushCtx, rec)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pushed %s to %s\n", rec.Dir, transfer.NormalizeURL(target))
			fmt.Fprintf(out, "  transform rows: %d, ui rows: %d, batches: %d, payload: %s\n",
				res.Transform.Rows, res.UI.Rows, res.Batches(), humanize.IBytes(uint64(res.Bytes())))
			if skipped := res.Transform.Skipped + res.UI.Skipped; skipped > 0 {
				fmt.Fprintf(out, "  skipped %d malformed rows\n", skipped)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "Push the most recent recording")
	cmd.Flags().StringVar(&url, "url", "", "Receiver address (defaults to transfer.url)")
	cmd.Flags().StringVar(&origin, "origin", "", "Name prefixed to the receiver's files (defaults to transfer.origin)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per batch (defaults to transfer.batch_size)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long")
	return cmd
}
