package test

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	s3client "github.com/digital-carver/keepass2/internal/s3"
	"github.com/digital-carver/keepass2/internal/status"
)

// Destroyer is the part of the S3 API DestroyBucket needs
type Destroyer interface {
	s3client.VersionLister
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteBucket(ctx context.Context, in *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// DestroyOptions holds configuration for the destroy operation
type DestroyOptions struct {
	Client       Destroyer
	Bucket       string
	DeleteBucket bool
	Logger       *zap.SugaredLogger
	Status       status.Logger
}

// DestroySummary is what DestroyBucket managed to do
type DestroySummary struct {
	Total   int
	Deleted int
	Failed  int
}

// DestroyBucket deletes all objects, versions and delete markers from a
// bucket, and the bucket itself when asked to.
func DestroyBucket(ctx context.Context, opts DestroyOptions) (DestroySummary, error) {
	var summary DestroySummary
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	st := opts.Status
	if st == nil {
		st = status.Discard
	}

	opts.Logger.Info("Analyzing bucket versions (may take a while for large buckets)")
	stats, err := s3client.GetBucketStats(ctx, opts.Client, opts.Bucket, "", nil)
	if err != nil {
		return summary, fmt.Errorf("failed to count bucket items: %w", err)
	}
	summary.Total = stats.TotalVersionsAndMarkers

	if summary.Total == 0 {
		opts.Logger.Info("Bucket is already empty")
		if opts.DeleteBucket {
			return summary, deleteBucket(ctx, opts.Client, opts.Bucket, opts.Logger)
		}
		return summary, nil
	}

	opts.Logger.Infow("Bucket statistics",
		"total_items", stats.TotalVersionsAndMarkers,
		"individual_files", stats.UniqueKeys,
		"delete_markers", stats.DeleteMarkers,
	)

	canceled := false
	st.StartLogging(fmt.Sprintf("Deleting %d versions from %s", summary.Total, opts.Bucket), true)
	in := s3.ListObjectVersionsInput{Bucket: aws.String(opts.Bucket)}
	err = s3client.WalkVersions(ctx, opts.Client, in, func(page *s3.ListObjectVersionsOutput) bool {
		for _, v := range s3client.PageVersions(page) {
			opts.Logger.Debugw("Deleting version", "key", v.Key, "version_id", v.VersionID, "delete_marker", v.DeleteMarker)
			_, err := opts.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket:    aws.String(opts.Bucket),
				Key:       aws.String(v.Key),
				VersionId: aws.String(v.VersionID),
			})
			if err != nil {
				summary.Failed++
				opts.Logger.Warnw("Failed to delete version", "key", v.Key, "error", err)
				st.SetText(fmt.Sprintf("delete %s: %v", v.Key, err), status.Warning)
			} else {
				summary.Deleted++
				st.SetText("Deleting "+v.Key, status.Info)
			}
			done := int64(summary.Deleted + summary.Failed)
			if !st.SetProgress(status.Percent(done, int64(summary.Total))) {
				canceled = true
				return false
			}
		}
		return true
	})
	st.EndLogging()
	if err != nil {
		return summary, fmt.Errorf("failed to delete objects: %w", err)
	}

	opts.Logger.Infow("Bucket cleanup complete", "deleted", summary.Deleted, "failed", summary.Failed, "total", summary.Total)
	if canceled {
		return summary, ErrCanceled
	}

	if opts.DeleteBucket {
		return summary, deleteBucket(ctx, opts.Client, opts.Bucket, opts.Logger)
	}
	return summary, nil
}

// deleteBucket deletes the bucket itself
func deleteBucket(ctx context.Context, client Destroyer, bucket string, logger *zap.SugaredLogger) error {
	logger.Infow("Deleting bucket", "bucket", bucket)
	_, err := client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	logger.Infow("Bucket successfully destroyed", "bucket", bucket)
	return nil
}
