package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"
)

// FileWriter writes sidecar files straight to the Store at
// Hive-partitioned paths under files/, bypassing Dataset
// segment/manifest machinery entirely.
type FileWriter interface {
	// PutFile writes one file. The filename must carry no path
	// separators and no "..".
	PutFile(ctx context.Context, filename, contentType string, data []byte) error
}

var _ FileWriter = (*LodeClient)(nil)

// fileMetadata is the companion record written beside each file.
// Store.Put has no metadata parameter, so the content type (and
// enough context to audit the write) survives as a sidecar.
type fileMetadata struct {
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	WrittenAt   string `json:"written_at"`
	RunID       string `json:"run_id"`
}

// checkFilename re-validates at the storage boundary. Ingestion
// sanitizes file_write frames before the writer sees them, but this
// method is also reachable from in-process callers that never crossed
// ingestion, and a traversal here writes outside the partition.
func checkFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("file write rejected: empty filename")
	}
	if strings.ContainsAny(filename, "/\\") || strings.Contains(filename, "..") {
		return fmt.Errorf("file write rejected: unsafe filename %q", filename)
	}
	return nil
}

// PutFile writes the data file plus its .meta.json companion.
func (c *LodeClient) PutFile(ctx context.Context, filename, contentType string, data []byte) error {
	if err := checkFilename(filename); err != nil {
		return err
	}

	store, err := c.fileStore()
	if err != nil {
		return fmt.Errorf("file write store init failed: %w", err)
	}

	path := c.filePath(filename)
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return WrapWriteError(err, path)
	}

	meta, err := json.Marshal(fileMetadata{
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		WrittenAt:   time.Now().UTC().Format(time.RFC3339),
		RunID:       c.config.RunID,
	})
	if err != nil {
		return fmt.Errorf("file write metadata marshal failed: %w", err)
	}
	if err := store.Put(ctx, path+".meta.json", bytes.NewReader(meta)); err != nil {
		return WrapWriteError(err, path+".meta.json")
	}
	return nil
}

// fileStore lazily initializes the raw Store from the factory.
func (c *LodeClient) fileStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// filePath computes the Hive path for a sidecar file:
// datasets/<dataset>/partitions/source=<s>/category=<c>/day=<d>/run_id=<r>/files/<filename>
func (c *LodeClient) filePath(filename string) string {
	return fmt.Sprintf("datasets/%s/partitions/source=%s/category=%s/day=%s/run_id=%s/files/%s",
		c.config.Dataset,
		c.config.Source,
		c.config.Category,
		c.config.Day,
		c.config.RunID,
		filename,
	)
}

// StubFileWriter records PutFile calls for tests.
type StubFileWriter struct {
	mu    sync.Mutex
	Files []StubFileRecord
	// ErrOnPut, when set, fails every PutFile without recording.
	ErrOnPut error
}

// StubFileRecord is one recorded PutFile call.
type StubFileRecord struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewStubFileWriter builds an empty stub file writer.
func NewStubFileWriter() *StubFileWriter {
	return &StubFileWriter{}
}

// PutFile implements FileWriter by recording the call.
func (w *StubFileWriter) PutFile(_ context.Context, filename, contentType string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ErrOnPut != nil {
		return w.ErrOnPut
	}
	w.Files = append(w.Files, StubFileRecord{Filename: filename, ContentType: contentType, Data: data})
	return nil
}

var _ FileWriter = (*StubFileWriter)(nil)
