package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digital-carver/keepass2/internal/copier"
)

var copyCmd = &cobra.Command{
	Use:   "copy SRC DST",
	Short: "Copy a local directory tree",
	Long:  "Copy a local directory tree, showing progress once the first file is being copied. Useful to try the progress display without S3.",
	Example: `  # Copy with a full screen display drawn from its own goroutine
  s3-easy-pitr copy ./data /mnt/backup/data --surface tui --threaded`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCopy(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(copyCmd)
}

func runCopy(ctx context.Context, src, dst string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	st, wait, err := operationStatus(ctx)
	if err != nil {
		return err
	}
	defer wait()

	summary, err := copier.Copy(ctx, copier.Options{
		Src:    src,
		Dst:    dst,
		Logger: zap.S(),
		Status: st,
	})
	if err != nil {
		return err
	}
	zap.S().Infow("Copied", "files", summary.Files, "dirs", summary.Dirs, "size", humanize.IBytes(uint64(summary.Bytes)))
	return nil
}
