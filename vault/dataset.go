package vault

import (
	"context"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// NewReadDataset opens a Dataset for the read side (CLI inspect,
// stats, debug). Layout and codec come from newHiveDataset so reads
// always agree with what the write path produced.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return newHiveDataset(dataset, factory)
}

// NewReadDatasetFS opens a read Dataset over filesystem storage.
func NewReadDatasetFS(dataset, rootPath string) (lode.Dataset, error) {
	return newHiveDataset(dataset, lode.NewFSFactory(rootPath))
}

// NewReadDatasetS3 opens a read Dataset over S3 storage.
func NewReadDatasetS3(dataset string, s3cfg S3Config) (lode.Dataset, error) {
	factory, err := newS3StoreFactory(context.Background(), s3cfg)
	if err != nil {
		return nil, err
	}
	return newHiveDataset(dataset, factory)
}

// isMetricsSnapshot reports whether any file in the snapshot sits
// under the event_type=metrics partition.
func isMetricsSnapshot(snap *lode.DatasetSnapshot) bool {
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, "event_type", "metrics") {
			return true
		}
	}
	return false
}

// snapshotMatchesFilter reports whether any file path carries the
// key=value partition segment. An empty value matches everything.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue matches a whole key=value path segment.
// Segment-exact matching keeps run_id=run-1 from matching
// run_id=run-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
