package s3

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// VersionLister is the part of the S3 API the version walkers need
type VersionLister interface {
	ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
}

// BucketStats holds statistics about a bucket
type BucketStats struct {
	UniqueKeys              int
	TotalVersionsAndMarkers int
	DeleteMarkers           int
	RecoverableFiles        int
	RecoverableKeys         []string // sorted keys that have a version at or before the target time
}

// WalkVersions calls fn for every page of versions and delete markers
// matching in, following the pagination markers. Returning false from fn
// stops the walk without error.
func WalkVersions(ctx context.Context, client VersionLister, in s3.ListObjectVersionsInput, fn func(page *s3.ListObjectVersionsOutput) bool) error {
	if in.MaxKeys == nil {
		in.MaxKeys = aws.Int32(1000)
	}
	for {
		out, err := client.ListObjectVersions(ctx, &in)
		if err != nil {
			return fmt.Errorf("list object versions: %w", err)
		}
		if !fn(out) {
			return nil
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		in.KeyMarker, in.VersionIdMarker = out.NextKeyMarker, out.NextVersionIdMarker
	}
}

// GetBucketStats collects statistics about the bucket.
// If targetTime is nil every key counts as recoverable.
func GetBucketStats(ctx context.Context, client VersionLister, bucket, prefix string, targetTime *time.Time) (BucketStats, error) {
	type keyInfo struct {
		versions       int
		deleteMarkers  int
		hasRecoverable bool
	}
	keys := make(map[string]*keyInfo)
	info := func(key string) *keyInfo {
		if keys[key] == nil {
			keys[key] = &keyInfo{}
		}
		return keys[key]
	}

	in := s3.ListObjectVersionsInput{Bucket: aws.String(bucket), Prefix: aws.String(prefix)}
	err := WalkVersions(ctx, client, in, func(page *s3.ListObjectVersionsOutput) bool {
		for _, v := range page.Versions {
			if v.Key == nil {
				continue
			}
			ki := info(*v.Key)
			ki.versions++
			if targetTime != nil && v.LastModified != nil && !v.LastModified.After(*targetTime) {
				ki.hasRecoverable = true
			}
		}
		for _, m := range page.DeleteMarkers {
			if m.Key == nil {
				continue
			}
			info(*m.Key).deleteMarkers++
		}
		return true
	})
	if err != nil {
		return BucketStats{}, err
	}

	stats := BucketStats{UniqueKeys: len(keys), RecoverableKeys: make([]string, 0)}
	for key, ki := range keys {
		stats.TotalVersionsAndMarkers += ki.versions + ki.deleteMarkers
		stats.DeleteMarkers += ki.deleteMarkers
		if targetTime == nil || ki.hasRecoverable {
			stats.RecoverableFiles++
			stats.RecoverableKeys = append(stats.RecoverableKeys, key)
		}
	}
	sort.Strings(stats.RecoverableKeys)
	return stats, nil
}

// ObjectVersion is either a version or a delete marker of one key
type ObjectVersion struct {
	Key          string
	VersionID    string
	LastModified time.Time
	IsLatest     bool
	DeleteMarker bool
	Size         int64
}

// PageVersions flattens a page into ObjectVersions, dropping incomplete entries
func PageVersions(page *s3.ListObjectVersionsOutput) []ObjectVersion {
	out := make([]ObjectVersion, 0, len(page.Versions)+len(page.DeleteMarkers))
	for _, v := range page.Versions {
		if v.Key == nil || v.VersionId == nil || v.LastModified == nil {
			continue
		}
		out = append(out, ObjectVersion{
			Key:          *v.Key,
			VersionID:    *v.VersionId,
			LastModified: *v.LastModified,
			IsLatest:     aws.ToBool(v.IsLatest),
			Size:         aws.ToInt64(v.Size),
		})
	}
	for _, m := range page.DeleteMarkers {
		if m.Key == nil || m.VersionId == nil || m.LastModified == nil {
			continue
		}
		out = append(out, ObjectVersion{
			Key:          *m.Key,
			VersionID:    *m.VersionId,
			LastModified: *m.LastModified,
			IsLatest:     aws.ToBool(m.IsLatest),
			DeleteMarker: true,
		})
	}
	return out
}
