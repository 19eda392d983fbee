package pitr

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsS3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	internalS3 "github.com/digital-carver/keepass2/internal/s3"
	"github.com/digital-carver/keepass2/internal/status"
)

// ErrCanceled is returned when the status logger asked to stop
var ErrCanceled = errors.New("recovery canceled")

// minPartSize is the smallest part S3 accepts in a multipart upload
const minPartSize = 5 * 1024 * 1024

// API is the part of the S3 client a recovery needs
type API interface {
	internalS3.VersionLister
	CopyObject(ctx context.Context, in *awsS3.CopyObjectInput, optFns ...func(*awsS3.Options)) (*awsS3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *awsS3.DeleteObjectInput, optFns ...func(*awsS3.Options)) (*awsS3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *awsS3.CreateMultipartUploadInput, optFns ...func(*awsS3.Options)) (*awsS3.CreateMultipartUploadOutput, error)
	UploadPartCopy(ctx context.Context, in *awsS3.UploadPartCopyInput, optFns ...func(*awsS3.Options)) (*awsS3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *awsS3.CompleteMultipartUploadInput, optFns ...func(*awsS3.Options)) (*awsS3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *awsS3.AbortMultipartUploadInput, optFns ...func(*awsS3.Options)) (*awsS3.AbortMultipartUploadOutput, error)
}

// Options for the PITR run
type Options struct {
	Client API
	Bucket string
	Prefix string
	Target time.Time // Target time for point-in-time recovery
	// Remove deletes keys that did not exist at Target
	Remove   bool
	Parallel int
	Logger   *zap.SugaredLogger
	// Status receives progress. Every call is made from the goroutine that
	// called Run, so synchronous status loggers are fine.
	Status status.Logger
	// CopyRetries controls how many times a failing copy is attempted.
	// Default is 3.
	CopyRetries int
	// CopyTimeout is the per-request timeout. Use a reasonably
	// long timeout for S3-compatible endpoints (e.g. 2m).
	CopyTimeout time.Duration
	// CopyPartSize is the part size to use for multipart copies (in bytes)
	CopyPartSize int64
	// MultipartThreshold defines the size (in bytes) above which multipart
	// copy will be used instead of a single CopyObject
	MultipartThreshold int64
}

// Summary counts what a run did per key
type Summary struct {
	Total     int
	Restored  int
	Removed   int
	Unchanged int
	Skipped   int
	Failed    int
}

type action int

const (
	actionUnchanged action = iota
	actionRestore
	actionRemove
	actionSkip
)

type job struct {
	key     string
	action  action
	version internalS3.ObjectVersion
}

type result struct {
	job
	err error
}

// retryBase is the first backoff delay, doubled on every attempt
var retryBase = 500 * time.Millisecond

// Run will perform the point-in-time recovery
func Run(ctx context.Context, opts Options) (Summary, error) {
	var summary Summary
	if opts.Client == nil {
		return summary, errors.New("s3 client is nil")
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	st := opts.Status
	if st == nil {
		st = status.Discard
	}

	st.StartLogging(fmt.Sprintf("Restoring %s to %s", opts.Bucket, opts.Target.Format(time.RFC3339)), true)
	defer st.EndLogging()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !st.SetText("Listing object versions in "+opts.Bucket, status.Info) {
		return summary, ErrCanceled
	}
	versions, err := listVersions(ctx, opts.Client, opts.Bucket, opts.Prefix, opts.Parallel, func(keys int) bool {
		return st.SetText(fmt.Sprintf("Listing object versions: %d keys", keys), status.Info)
	})
	if err != nil {
		return summary, err
	}

	keys := make([]string, 0, len(versions))
	for k := range versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	summary.Total = len(keys)
	if len(keys) == 0 {
		st.SetText("No objects to process", status.Info)
		return summary, nil
	}

	var work []job
	done := 0
	for _, key := range keys {
		j := plan(key, versions[key], opts.Target, opts.Remove)
		switch j.action {
		case actionRestore, actionRemove:
			work = append(work, j)
		case actionSkip:
			summary.Skipped++
			done++
			st.SetText(fmt.Sprintf("%s did not exist at target time, kept (use --remove to delete)", key), status.AdditionalInfo)
		default:
			summary.Unchanged++
			done++
		}
	}
	st.SetProgress(status.Percent(int64(done), int64(summary.Total)))
	opts.Logger.Debugw("recovery plan", "keys", summary.Total, "work", len(work), "unchanged", summary.Unchanged, "skipped", summary.Skipped)

	jobs := make(chan job)
	results := make(chan result, opts.Parallel)
	workers, wctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Parallel; i++ {
		workers.Go(func() error {
			for j := range jobs {
				results <- result{job: j, err: processJob(wctx, &opts, j)}
			}
			return nil
		})
	}

	go func() {
		defer close(jobs)
		for _, j := range work {
			select {
			case jobs <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = workers.Wait()
		close(results)
	}()

	canceled := false
	for r := range results {
		done++
		switch {
		case r.err != nil:
			summary.Failed++
			opts.Logger.Errorw("process key failed", "key", r.key, "err", r.err)
			st.SetText(fmt.Sprintf("%s: %v", r.key, r.err), status.Error)
		case r.action == actionRemove:
			summary.Removed++
			st.SetText("Removed "+r.key, status.Info)
		default:
			summary.Restored++
			st.SetText("Restored "+r.key, status.Info)
		}
		proceed := st.SetProgress(status.Percent(int64(done), int64(summary.Total)))
		if !canceled && (!proceed || !st.ContinueWork()) {
			// keep draining so the workers can exit
			canceled = true
			cancel()
		}
	}

	if canceled {
		return summary, ErrCanceled
	}
	if summary.Failed > 0 {
		return summary, fmt.Errorf("%d of %d keys failed to restore", summary.Failed, summary.Total)
	}
	return summary, nil
}

// listVersions groups every version and delete marker under prefix by key.
// Top-level common prefixes are listed in parallel; report is only called
// from the calling goroutine.
func listVersions(ctx context.Context, client API, bucket, prefix string, workers int, report func(keys int) bool) (map[string][]internalS3.ObjectVersion, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	versions := make(map[string][]internalS3.ObjectVersion)
	add := func(vs []internalS3.ObjectVersion) {
		for _, v := range vs {
			versions[v.Key] = append(versions[v.Key], v)
		}
	}

	// Discover top-level common prefixes to split the listing work
	var prefixes []string
	stopped := false
	delimiter := "/"
	top := awsS3.ListObjectVersionsInput{Bucket: aws.String(bucket), Prefix: aws.String(prefix), Delimiter: &delimiter}
	err := internalS3.WalkVersions(ctx, client, top, func(page *awsS3.ListObjectVersionsOutput) bool {
		for _, cp := range page.CommonPrefixes {
			if cp.Prefix != nil {
				prefixes = append(prefixes, *cp.Prefix)
			}
		}
		add(internalS3.PageVersions(page))
		stopped = !report(len(versions))
		return !stopped
	})
	if err != nil {
		return nil, fmt.Errorf("list common prefixes: %w", err)
	}
	if stopped {
		return nil, ErrCanceled
	}
	if len(prefixes) == 0 {
		return versions, nil
	}

	pages := make(chan []internalS3.ObjectVersion, workers)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	errCh := make(chan error, 1)
	go func() {
		for _, p := range prefixes {
			in := awsS3.ListObjectVersionsInput{Bucket: aws.String(bucket), Prefix: aws.String(p)}
			g.Go(func() error {
				err := internalS3.WalkVersions(gctx, client, in, func(page *awsS3.ListObjectVersionsOutput) bool {
					select {
					case pages <- internalS3.PageVersions(page):
						return true
					case <-gctx.Done():
						return false
					}
				})
				if err != nil {
					return fmt.Errorf("list versions for prefix %s: %w", *in.Prefix, err)
				}
				return nil
			})
		}
		errCh <- g.Wait()
		close(pages)
	}()

	for vs := range pages {
		add(vs)
		if !stopped && !report(len(versions)) {
			stopped = true
			cancel()
		}
	}
	err = <-errCh
	if stopped {
		return nil, ErrCanceled
	}
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// versionAt returns the entry that was current at target, or nil when the key
// had no history yet
func versionAt(versions []internalS3.ObjectVersion, target time.Time) *internalS3.ObjectVersion {
	var at *internalS3.ObjectVersion
	for i := range versions {
		v := &versions[i]
		if v.LastModified.After(target) {
			continue
		}
		if at == nil || v.LastModified.After(at.LastModified) {
			at = v
		}
	}
	return at
}

func latestVersion(versions []internalS3.ObjectVersion) *internalS3.ObjectVersion {
	var latest *internalS3.ObjectVersion
	for i := range versions {
		v := &versions[i]
		if v.IsLatest {
			return v
		}
		if latest == nil || v.LastModified.After(latest.LastModified) {
			latest = v
		}
	}
	return latest
}

// plan decides what has to happen to key so that it looks like it did at target
func plan(key string, versions []internalS3.ObjectVersion, target time.Time, remove bool) job {
	at := versionAt(versions, target)
	cur := latestVersion(versions)

	if at == nil || at.DeleteMarker {
		// the key did not exist at target time
		if cur == nil || cur.DeleteMarker {
			return job{key: key, action: actionUnchanged}
		}
		if !remove {
			return job{key: key, action: actionSkip}
		}
		return job{key: key, action: actionRemove}
	}
	if cur != nil && cur.VersionID == at.VersionID {
		return job{key: key, action: actionUnchanged}
	}
	return job{key: key, action: actionRestore, version: *at}
}

func processJob(ctx context.Context, opts *Options, j job) error {
	if j.action == actionRemove {
		return withRetries(ctx, opts, "delete", func(ctx context.Context) error {
			_, err := opts.Client.DeleteObject(ctx, &awsS3.DeleteObjectInput{
				Bucket: aws.String(opts.Bucket),
				Key:    aws.String(j.key),
			})
			return err
		})
	}

	copySource := opts.Bucket + "/" + url.PathEscape(j.key) + "?versionId=" + url.QueryEscape(j.version.VersionID)
	if opts.MultipartThreshold > 0 && j.version.Size > opts.MultipartThreshold && opts.CopyPartSize > 0 {
		return multipartCopy(ctx, opts, j.key, copySource, j.version.Size)
	}
	return withRetries(ctx, opts, "single-copy", func(ctx context.Context) error {
		_, err := opts.Client.CopyObject(ctx, &awsS3.CopyObjectInput{
			Bucket:     aws.String(opts.Bucket),
			Key:        aws.String(j.key),
			CopySource: aws.String(copySource),
		})
		return err
	})
}

// withRetries runs fn with a per-attempt timeout and exponential backoff
// with jitter between attempts
func withRetries(ctx context.Context, opts *Options, what string, fn func(ctx context.Context) error) error {
	maxAttempts := opts.CopyRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	perReqTimeout := opts.CopyTimeout
	if perReqTimeout <= 0 {
		perReqTimeout = 2 * time.Minute
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perReqTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		backoff := retryBase * time.Duration(1<<(attempt-1))
		sleep := backoff + rand.N(backoff/2+1)
		opts.Logger.Debugw(what+" attempt failed, will retry", "attempt", attempt, "sleep", sleep, "err", err)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return fmt.Errorf("context canceled while backing off: %w", ctx.Err())
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, maxAttempts, lastErr)
}

// multipartCopy performs a multipart copy using UploadPartCopy for each part.
func multipartCopy(ctx context.Context, opts *Options, key, copySource string, size int64) error {
	client := opts.Client
	bucket := opts.Bucket
	partSize := max(opts.CopyPartSize, minPartSize)
	numParts := int((size + partSize - 1) / partSize)

	createOut, err := client.CreateMultipartUpload(ctx, &awsS3.CreateMultipartUploadInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return fmt.Errorf("initiate multipart upload: %w", err)
	}
	uploadID := createOut.UploadId
	abort := func() {
		// the run context may already be gone
		client.AbortMultipartUpload(context.Background(), &awsS3.AbortMultipartUploadInput{Bucket: &bucket, Key: &key, UploadId: uploadID})
	}

	completedParts := make([]awsS3types.CompletedPart, 0, numParts)
	for partNum := 1; partNum <= numParts; partNum++ {
		start := partSize * int64(partNum-1)
		end := min(start+partSize, size) - 1
		rangeHeader := fmt.Sprintf("bytes=%d-%d", start, end)
		pn := int32(partNum)

		var partOut *awsS3.UploadPartCopyOutput
		err := withRetries(ctx, opts, fmt.Sprintf("upload-part-copy %d", partNum), func(ctx context.Context) error {
			var err error
			partOut, err = client.UploadPartCopy(ctx, &awsS3.UploadPartCopyInput{
				Bucket:          &bucket,
				Key:             &key,
				UploadId:        uploadID,
				PartNumber:      &pn,
				CopySource:      &copySource,
				CopySourceRange: &rangeHeader,
			})
			return err
		})
		if err != nil {
			abort()
			return fmt.Errorf("upload part %d: %w", partNum, err)
		}
		var etag *string
		if partOut.CopyPartResult != nil {
			etag = partOut.CopyPartResult.ETag
		}
		completedParts = append(completedParts, awsS3types.CompletedPart{ETag: etag, PartNumber: &pn})
	}

	_, err = client.CompleteMultipartUpload(ctx, &awsS3.CompleteMultipartUploadInput{
		Bucket:          &bucket,
		Key:             &key,
		UploadId:        uploadID,
		MultipartUpload: &awsS3types.CompletedMultipartUpload{Parts: completedParts},
	})
	if err != nil {
		abort()
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}
