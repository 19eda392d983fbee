package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	s3client "github.com/digital-carver/keepass2/internal/s3"
	"github.com/digital-carver/keepass2/internal/test"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test utilities for S3 bucket operations",
	Long:  "Commands to generate test data and manage S3 buckets for testing purposes",
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate and upload random files to S3",
	Long:  "Generate random files and upload them to an S3 bucket with configurable parallelism",
	Example: `  # Generate 500 files with random sizes (1KB-1MB each)
  s3-easy-pitr test generate --num-files 500

  # Generate 100 files totaling exactly 100MB
  s3-easy-pitr test generate --num-files 100 --total-size 100MB

  # Generate 1000 files with 20 parallel uploads
  s3-easy-pitr test generate --num-files 1000 --parallel 20`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return requireBucket()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGenerate(cmd.Context())
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy an S3 bucket",
	Long:  "Delete all objects, versions, and delete markers from a bucket, then delete the bucket itself",
	Example: `  # Destroy a bucket (will prompt for confirmation)
  s3-easy-pitr test destroy

  # Destroy a specific bucket
  s3-easy-pitr test destroy --bucket my-old-bucket`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return requireBucket()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDestroy(cmd.Context())
	},
}

func init() {
	generateCmd.Flags().Int64("num-files", 1000, "Number of files to generate")
	generateCmd.Flags().String("total-size", "0", "Total size (e.g. 100MB, 1GB). If 0, random sizes 1KB-1MB per file")
	// Note: parallel flag is inherited from global persistent flags

	viper.BindPFlag("test.num-files", generateCmd.Flags().Lookup("num-files"))
	viper.BindPFlag("test.total-size", generateCmd.Flags().Lookup("total-size"))

	destroyCmd.Flags().Bool("delete-bucket", false, "Delete the bucket after emptying it")
	destroyCmd.Flags().Bool("yes", false, "Do not ask for confirmation")
	viper.BindPFlag("test.delete-bucket", destroyCmd.Flags().Lookup("delete-bucket"))
	viper.BindPFlag("test.yes", destroyCmd.Flags().Lookup("yes"))

	testCmd.AddCommand(generateCmd)
	testCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(testCmd)
}

func runGenerate(ctx context.Context) error {
	sugar := zap.S()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	bucket := viper.GetString("bucket")
	numFiles := viper.GetInt("test.num-files")
	maxParallel := viper.GetInt("parallel")

	totalSize, err := byteSize("test.total-size", 0)
	if err != nil {
		return err
	}
	if numFiles <= 0 {
		return fmt.Errorf("num-files must be greater than 0")
	}

	sugar.Infow("Starting S3 files generation",
		"endpoint", viper.GetString("endpoint"),
		"bucket", bucket,
		"num_files", numFiles,
		"parallel", maxParallel,
	)
	if totalSize > 0 {
		sugar.Infow("Total size target", "bytes", totalSize, "human", humanize.IBytes(uint64(totalSize)))
	} else {
		sugar.Infow("File sizes", "mode", "random (1KB - 1MB per file)")
	}

	client, err := s3client.NewClient(ctx, s3Config())
	if err != nil {
		return fmt.Errorf("create s3 client: %w", err)
	}
	// generated data is only useful for recovery tests on a versioned bucket
	if err := client.CheckVersioningEnabled(ctx, bucket); err != nil {
		sugar.Warnw("Uploading to a bucket without versioning", "error", err)
	}

	fileSizes := test.GenerateFileSizes(numFiles, totalSize)
	sugar.Infow("Calculated file sizes",
		"num_files", len(fileSizes),
		"actual_total_human", humanize.IBytes(uint64(sumSizes(fileSizes))),
	)

	st, wait, err := operationStatus(ctx)
	if err != nil {
		return err
	}
	defer wait()

	_, err = test.UploadFiles(ctx, test.UploadOptions{
		Client:      client.S3,
		Bucket:      bucket,
		FileSizes:   fileSizes,
		MaxParallel: maxParallel,
		Logger:      sugar,
		Status:      st,
	})
	return err
}

func runDestroy(ctx context.Context) error {
	sugar := zap.S()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	bucket := viper.GetString("bucket")
	deleteBucket := viper.GetBool("test.delete-bucket")

	if !viper.GetBool("test.yes") {
		ok, err := confirmDestroy(bucket, deleteBucket)
		if err != nil {
			return err
		}
		if !ok {
			sugar.Infow("Bucket destruction cancelled - name did not match")
			return nil
		}
	}

	client, err := s3client.NewClient(ctx, s3Config())
	if err != nil {
		return fmt.Errorf("create s3 client: %w", err)
	}

	st, wait, err := operationStatus(ctx)
	if err != nil {
		return err
	}
	defer wait()

	_, err = test.DestroyBucket(ctx, test.DestroyOptions{
		Client:       client.S3,
		Bucket:       bucket,
		DeleteBucket: deleteBucket,
		Logger:       sugar,
		Status:       st,
	})
	return err
}

// confirmDestroy asks the user to type the bucket name
func confirmDestroy(bucket string, deleteBucket bool) (bool, error) {
	fmt.Fprintf(term, "\nWARNING: You are about to empty the bucket: %s\n", bucket)
	fmt.Fprintf(term, "Endpoint: %s\n", viper.GetString("endpoint"))
	fmt.Fprintln(term, "\nThis will:")
	fmt.Fprintln(term, "  1. Delete all objects and versions in the bucket")
	if deleteBucket {
		fmt.Fprintln(term, "  2. Delete the bucket itself")
	} else {
		fmt.Fprintln(term, "  2. Keep the empty bucket (use --delete-bucket to delete it)")
	}
	fmt.Fprintln(term, "\nThis action CANNOT be undone!")

	answer, err := term.Confirm("\nType the bucket name to confirm: ")
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return answer == bucket, nil
}

// sumSizes calculates the total of all file sizes
func sumSizes(sizes []int64) int64 {
	var total int64
	for _, size := range sizes {
		total += size
	}
	return total
}
