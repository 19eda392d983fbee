package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/digital-carver/keepass2/internal/pitr"
	s3client "github.com/digital-carver/keepass2/internal/s3"
)

var recoverCmd = &cobra.Command{
	Use:     "recover",
	Aliases: []string{"run"},
	Short:   "Recover at a point-in-time",
	Example: rootCmd.Example,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBucket(); err != nil {
			return err
		}
		_, err := targetTime()
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecover(cmd.Context())
	},
}

func init() {
	recoverCmd.Flags().Bool("remove", false, "Delete files that didn't exist at target time (env: S3_PITR_REMOVE)")
	recoverCmd.Flags().Bool("dry-run", false, "Only print what the bucket looks like at target time (env: S3_PITR_DRY_RUN)")
	viper.BindPFlag("remove", recoverCmd.Flags().Lookup("remove"))
	viper.BindPFlag("dry-run", recoverCmd.Flags().Lookup("dry-run"))
	viper.BindEnv("remove", "S3_PITR_REMOVE")
	viper.BindEnv("dry-run", "S3_PITR_DRY_RUN")

	rootCmd.AddCommand(recoverCmd)
}

func targetTime() (time.Time, error) {
	s := viper.GetString("target-time")
	if s == "" {
		return time.Time{}, fmt.Errorf("missing required option: --target-time (RFC3339) or environment variable S3_PITR_TARGET_TIME")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --target-time: must be RFC3339 (example: 2025-11-05T10:00:00Z): %w", err)
	}
	if t.After(time.Now()) {
		return time.Time{}, fmt.Errorf("--target-time must be in the past, not in the future")
	}
	return t, nil
}

func runRecover(ctx context.Context) error {
	sugar := zap.S()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	endpoint := viper.GetString("endpoint")
	bucket := viper.GetString("bucket")
	prefix := viper.GetString("prefix")
	parallel := viper.GetInt("parallel")
	target, err := targetTime()
	if err != nil {
		return err
	}

	client, err := s3client.NewClient(ctx, s3Config())
	if err != nil {
		return fmt.Errorf("create s3 client: %w", err)
	}
	if err := client.CheckVersioningEnabled(ctx, bucket); err != nil {
		return fmt.Errorf("bucket versioning check failed: %w", err)
	}

	if viper.GetBool("dry-run") {
		stats, err := s3client.GetBucketStats(ctx, client.S3, bucket, prefix, &target)
		if err != nil {
			return err
		}
		sugar.Infow("Bucket at target time",
			"bucket", bucket,
			"prefix", prefix,
			"target", target.Format(time.RFC3339),
			"keys", stats.UniqueKeys,
			"versions_and_markers", stats.TotalVersionsAndMarkers,
			"delete_markers", stats.DeleteMarkers,
			"recoverable", stats.RecoverableFiles,
		)
		for _, key := range stats.RecoverableKeys {
			fmt.Fprintln(term, key)
		}
		return nil
	}

	copyTimeout, err := time.ParseDuration(viper.GetString("copy-timeout"))
	if err != nil {
		return fmt.Errorf("invalid --copy-timeout: %w", err)
	}
	partSize, err := byteSize("copy-part-size", 200*1024*1024)
	if err != nil {
		return err
	}
	multipartThreshold, err := byteSize("multipart-threshold", 1024*1024*1024)
	if err != nil {
		return err
	}

	st, wait, err := operationStatus(ctx)
	if err != nil {
		return err
	}
	defer wait()

	sugar.Infow("Starting PITR", "endpoint", endpoint, "bucket", bucket, "prefix", prefix, "parallel", parallel)
	summary, err := pitr.Run(ctx, pitr.Options{
		Client: client.S3,
		Bucket: bucket,
		Prefix: prefix,
		Target: target,
		Remove: viper.GetBool("remove"),

		Parallel:           parallel,
		Logger:             sugar,
		Status:             st,
		CopyRetries:        viper.GetInt("copy-retries"),
		CopyTimeout:        copyTimeout,
		CopyPartSize:       partSize,
		MultipartThreshold: multipartThreshold,
	})
	if errors.Is(err, pitr.ErrCanceled) {
		sugar.Warnw("Recovery canceled, the bucket is partially restored; run the same command again to finish", "restored", summary.Restored, "removed", summary.Removed)
		return err
	}
	if err != nil {
		sugar.Errorw("Recovery failed, your bucket might be in an inconsistent state, please either run previous command again or change target time if you want to rollback", "error", err)
		return err
	}

	sugar.Infow("PITR finished",
		"bucket", bucket,
		"prefix", prefix,
		"total", summary.Total,
		"restored", summary.Restored,
		"removed", summary.Removed,
		"unchanged", summary.Unchanged,
		"skipped", summary.Skipped,
	)
	return nil
}
