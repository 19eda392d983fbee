package test

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/digital-carver/keepass2/internal/status"
)

// ErrCanceled is returned when the status logger asked to stop
var ErrCanceled = errors.New("operation canceled")

// Uploader is the part of the S3 API UploadFiles needs
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// UploadOptions holds configuration for the upload operation
type UploadOptions struct {
	Client      Uploader
	Bucket      string
	FileSizes   []int64
	MaxParallel int
	Logger      *zap.SugaredLogger
	// Status is only called from the goroutine running UploadFiles
	Status status.Logger
}

// UploadSummary is what UploadFiles managed to do
type UploadSummary struct {
	Uploaded int
	Failed   int
	Bytes    int64
}

// GenerateFileSizes creates a slice of file sizes based on the total size requirement
func GenerateFileSizes(numFiles int, totalSize int64) []int64 {
	sizes := make([]int64, numFiles)

	if totalSize <= 0 {
		// Random sizes between 1KB and 1MB
		for i := range numFiles {
			sizes[i] = int64(mrand.Intn(1047552) + 1024)
		}
		return sizes
	}

	var accumulated int64
	for i := range numFiles {
		if i == numFiles-1 {
			// Last file gets the remainder
			sizes[i] = totalSize - accumulated
			break
		}
		remainingFiles := int64(numFiles - i)
		remainingSize := totalSize - accumulated
		avgSize := remainingSize / remainingFiles

		variation := max(avgSize/2, 1)
		size := avgSize + mrand.Int63n(variation*2+1) - variation

		// at least 1KB, and leave 1KB for every remaining file
		size = max(size, 1024)
		size = min(size, remainingSize-(remainingFiles-1)*1024)

		sizes[i] = size
		accumulated += size
	}
	return sizes
}

// FileName is the key of the i-th generated file
func FileName(i int) string {
	return fmt.Sprintf("file_%04d.bin", i+1)
}

type upload struct {
	name string
	size int64
	err  error
}

// UploadFiles uploads random files in parallel, reporting each one
func UploadFiles(ctx context.Context, opts UploadOptions) (UploadSummary, error) {
	var summary UploadSummary
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	st := opts.Status
	if st == nil {
		st = status.Discard
	}

	st.StartLogging(fmt.Sprintf("Uploading %d files to %s", len(opts.FileSizes), opts.Bucket), true)
	defer st.EndLogging()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.MaxParallel, 1))
	results := make(chan upload, max(opts.MaxParallel, 1))

	go func() {
		defer close(results)
		for i, size := range opts.FileSizes {
			if gctx.Err() != nil {
				break
			}
			name := FileName(i)
			g.Go(func() error {
				_, err := opts.Client.PutObject(gctx, &s3.PutObjectInput{
					Bucket:        aws.String(opts.Bucket),
					Key:           aws.String(name),
					Body:          io.LimitReader(rand.Reader, size),
					ContentLength: aws.Int64(size),
				})
				results <- upload{name: name, size: size, err: err}
				// a failed upload must not stop the others
				return nil
			})
		}
		_ = g.Wait()
	}()

	canceled := false
	done := 0
	for r := range results {
		done++
		if r.err != nil {
			summary.Failed++
			opts.Logger.Errorw("Failed to upload file", "filename", r.name, "error", r.err)
			st.SetText(fmt.Sprintf("upload %s: %v", r.name, r.err), status.Error)
		} else {
			summary.Uploaded++
			summary.Bytes += r.size
			st.SetText(fmt.Sprintf("Uploaded %s (%s)", r.name, humanize.IBytes(uint64(r.size))), status.Info)
		}
		if !st.SetProgress(status.Percent(int64(done), int64(len(opts.FileSizes)))) && !canceled {
			canceled = true
			cancel()
		}
	}

	opts.Logger.Infow("Upload complete",
		"uploaded", summary.Uploaded,
		"failed", summary.Failed,
		"total", len(opts.FileSizes),
		"bytes", humanize.IBytes(uint64(summary.Bytes)),
	)
	if canceled {
		return summary, ErrCanceled
	}
	if summary.Failed > 0 {
		return summary, fmt.Errorf("%d of %d uploads failed", summary.Failed, len(opts.FileSizes))
	}
	return summary, nil
}
