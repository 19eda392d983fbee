package pitr

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsS3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	internalS3 "github.com/digital-carver/keepass2/internal/s3"
	"github.com/digital-carver/keepass2/internal/status"
	"github.com/digital-carver/keepass2/internal/status/statustest"
)

var target = time.Date(2025, 11, 5, 10, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return target.Add(d) }

type fakeS3 struct {
	API // unimplemented methods panic

	// pages by prefix; the delimited top-level listing uses key ""
	pages map[string]*awsS3.ListObjectVersionsOutput

	mu        sync.Mutex
	copied    map[string]string
	deleted   []string
	failCopy  map[string]int
	parts     []string
	completed int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		pages:    map[string]*awsS3.ListObjectVersionsOutput{},
		copied:   map[string]string{},
		failCopy: map[string]int{},
	}
}

func (f *fakeS3) ListObjectVersions(ctx context.Context, in *awsS3.ListObjectVersionsInput, optFns ...func(*awsS3.Options)) (*awsS3.ListObjectVersionsOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page, ok := f.pages[aws.ToString(in.Prefix)]; ok {
		return page, nil
	}
	return &awsS3.ListObjectVersionsOutput{}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *awsS3.CopyObjectInput, optFns ...func(*awsS3.Options)) (*awsS3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if f.failCopy[key] > 0 {
		f.failCopy[key]--
		return nil, errors.New("slow down")
	}
	f.copied[key] = aws.ToString(in.CopySource)
	return &awsS3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *awsS3.DeleteObjectInput, optFns ...func(*awsS3.Options)) (*awsS3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &awsS3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *awsS3.CreateMultipartUploadInput, optFns ...func(*awsS3.Options)) (*awsS3.CreateMultipartUploadOutput, error) {
	return &awsS3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeS3) UploadPartCopy(ctx context.Context, in *awsS3.UploadPartCopyInput, optFns ...func(*awsS3.Options)) (*awsS3.UploadPartCopyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts = append(f.parts, aws.ToString(in.CopySourceRange))
	return &awsS3.UploadPartCopyOutput{CopyPartResult: &awsS3types.CopyPartResult{ETag: aws.String("etag")}}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *awsS3.CompleteMultipartUploadInput, optFns ...func(*awsS3.Options)) (*awsS3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = len(in.MultipartUpload.Parts)
	return &awsS3.CompleteMultipartUploadOutput{}, nil
}

func version(key, id string, when time.Time, latest bool) awsS3types.ObjectVersion {
	return awsS3types.ObjectVersion{Key: aws.String(key), VersionId: aws.String(id), LastModified: aws.Time(when), IsLatest: aws.Bool(latest), Size: aws.Int64(10)}
}

func marker(key, id string, when time.Time, latest bool) awsS3types.DeleteMarkerEntry {
	return awsS3types.DeleteMarkerEntry{Key: aws.String(key), VersionId: aws.String(id), LastModified: aws.Time(when), IsLatest: aws.Bool(latest)}
}

// history covers every planning branch:
// a: changed after target, b: untouched, c: created after target,
// d: deleted after target, e: already deleted at target then recreated
func history() *fakeS3 {
	f := newFakeS3()
	f.pages[""] = &awsS3.ListObjectVersionsOutput{
		Versions: []awsS3types.ObjectVersion{
			version("a.txt", "a2", at(time.Hour), true),
			version("a.txt", "a1", at(-time.Hour), false),
			version("b.txt", "b1", at(-time.Hour), true),
			version("c.txt", "c1", at(time.Hour), true),
			version("d.txt", "d1", at(-2*time.Hour), false),
			version("e.txt", "e2", at(time.Hour), true),
			version("e.txt", "e1", at(-2*time.Hour), false),
		},
		DeleteMarkers: []awsS3types.DeleteMarkerEntry{
			marker("d.txt", "dm", at(time.Hour), true),
			marker("e.txt", "em", at(-time.Hour), false),
		},
	}
	return f
}

func TestPlan(t *testing.T) {
	f := history()
	grouped := map[string][]internalS3.ObjectVersion{}
	for _, v := range internalS3.PageVersions(f.pages[""]) {
		grouped[v.Key] = append(grouped[v.Key], v)
	}

	tests := []struct {
		key    string
		remove bool
		want   action
		id     string
	}{
		{"a.txt", false, actionRestore, "a1"},
		{"b.txt", false, actionUnchanged, ""},
		{"c.txt", false, actionSkip, ""},
		{"c.txt", true, actionRemove, ""},
		{"d.txt", false, actionRestore, "d1"},
		{"e.txt", false, actionSkip, ""},
		{"e.txt", true, actionRemove, ""},
	}
	for _, tt := range tests {
		j := plan(tt.key, grouped[tt.key], target, tt.remove)
		assert.Equal(t, tt.want, j.action, "%s remove=%t", tt.key, tt.remove)
		assert.Equal(t, tt.id, j.version.VersionID, tt.key)
	}

	// deleted before target and still deleted: nothing to do
	gone := []internalS3.ObjectVersion{
		{Key: "z", VersionID: "z1", LastModified: at(-2 * time.Hour)},
		{Key: "z", VersionID: "zm", LastModified: at(-time.Hour), IsLatest: true, DeleteMarker: true},
	}
	assert.Equal(t, actionUnchanged, plan("z", gone, target, true).action)
}

func TestRunRestoresBucket(t *testing.T) {
	f := history()
	rec := &statustest.Recorder{}

	summary, err := Run(context.Background(), Options{
		Client:   f,
		Bucket:   "bucket",
		Target:   target,
		Remove:   true,
		Parallel: 3,
		Status:   rec,
	})
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 5, Restored: 2, Removed: 2, Unchanged: 1}, summary)
	assert.Equal(t, map[string]string{
		"a.txt": "bucket/a.txt?versionId=a1",
		"d.txt": "bucket/d.txt?versionId=d1",
	}, f.copied)
	sort.Strings(f.deleted)
	assert.Equal(t, []string{"c.txt", "e.txt"}, f.deleted)

	assert.Equal(t, 1, rec.Started)
	assert.Equal(t, 1, rec.Ended)
	assert.Contains(t, rec.Title, "Restoring bucket to 2025-11-05T10:00:00Z")
	assert.Equal(t, uint32(100), rec.LastProgress())
	assert.Contains(t, rec.TextsOf(status.Info), "Restored a.txt")
	assert.Contains(t, rec.TextsOf(status.Info), "Removed c.txt")
	assert.Empty(t, rec.TextsOf(status.Error))
}

func TestRunKeepsNewKeysWithoutRemove(t *testing.T) {
	f := history()
	rec := &statustest.Recorder{}

	summary, err := Run(context.Background(), Options{Client: f, Bucket: "bucket", Target: target, Status: rec})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 5, Restored: 2, Unchanged: 1, Skipped: 2}, summary)
	assert.Empty(t, f.deleted)
	assert.Len(t, rec.TextsOf(status.AdditionalInfo), 2)
}

func TestRunListsCommonPrefixes(t *testing.T) {
	f := newFakeS3()
	f.pages[""] = &awsS3.ListObjectVersionsOutput{
		Versions:       []awsS3types.ObjectVersion{version("root.txt", "r1", at(-time.Hour), true)},
		CommonPrefixes: []awsS3types.CommonPrefix{{Prefix: aws.String("dir/")}, {Prefix: aws.String("other/")}},
	}
	f.pages["dir/"] = &awsS3.ListObjectVersionsOutput{
		Versions: []awsS3types.ObjectVersion{
			version("dir/x", "x2", at(time.Hour), true),
			version("dir/x", "x1", at(-time.Hour), false),
		},
	}

	summary, err := Run(context.Background(), Options{Client: f, Bucket: "bucket", Target: target, Parallel: 2})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Restored: 1, Unchanged: 1}, summary)
	assert.Equal(t, "bucket/dir%2Fx?versionId=x1", f.copied["dir/x"])
}

func TestRunReportsFailures(t *testing.T) {
	retryBase = time.Millisecond
	t.Cleanup(func() { retryBase = 500 * time.Millisecond })

	f := history()
	f.failCopy["a.txt"] = 10
	f.failCopy["d.txt"] = 1
	rec := &statustest.Recorder{}

	summary, err := Run(context.Background(), Options{Client: f, Bucket: "bucket", Target: target, CopyRetries: 2, Status: rec})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 5 keys failed")
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Restored)
	require.Len(t, rec.TextsOf(status.Error), 1)
	assert.Contains(t, rec.TextsOf(status.Error)[0], "a.txt")
}

func TestRunStopsWhenCanceled(t *testing.T) {
	f := history()
	rec := &statustest.Recorder{StopAfter: 1}

	_, err := Run(context.Background(), Options{Client: f, Bucket: "bucket", Target: target, Parallel: 1, Status: rec})
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, 1, rec.Ended)
}

func TestRunEmptyBucket(t *testing.T) {
	rec := &statustest.Recorder{}
	summary, err := Run(context.Background(), Options{Client: newFakeS3(), Bucket: "bucket", Target: target, Status: rec})
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Contains(t, rec.TextsOf(status.Info), "No objects to process")
	assert.Equal(t, 1, rec.Ended)
}

func TestMultipartCopy(t *testing.T) {
	f := newFakeS3()
	opts := &Options{Client: f, Bucket: "bucket", CopyPartSize: minPartSize, Logger: zap.NewNop().Sugar()}

	err := multipartCopy(context.Background(), opts, "big", "bucket/big?versionId=1", 2*minPartSize+1)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"bytes=0-5242879",
		"bytes=5242880-10485759",
		"bytes=10485760-10485760",
	}, f.parts)
	assert.Equal(t, 3, f.completed)
}

func TestWithRetriesGivesUp(t *testing.T) {
	retryBase = time.Millisecond
	t.Cleanup(func() { retryBase = 500 * time.Millisecond })

	calls := 0
	opts := &Options{CopyRetries: 3, Logger: zap.NewNop().Sugar()}
	err := withRetries(context.Background(), opts, "copy", func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	assert.ErrorContains(t, err, "copy failed after 3 attempts: nope")
	assert.Equal(t, 3, calls)
}

func TestWithRetriesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := &Options{CopyRetries: 5, Logger: zap.NewNop().Sugar()}
	err := withRetries(ctx, opts, "copy", func(context.Context) error {
		cancel()
		return errors.New("nope")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRejectsNilClient(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	assert.Error(t, err)
}
