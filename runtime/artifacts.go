// Package runtime implements the run orchestrator, the ingestion engine,
// and the fan-out operator described in the core IPC/orchestration design.
package runtime

import (
	"fmt"
	"sync"

	"github.com/quarrio/quarry/ipc"
	"github.com/quarrio/quarry/types"
)

// MaxArtifactSize bounds the reassembled size of a single artifact (1 GiB).
const MaxArtifactSize = 1 * 1024 * 1024 * 1024

// ArtifactManager reassembles artifact chunks keyed by artifact ID and
// reconciles them against their (possibly late-arriving) commit record.
// Safe for concurrent use.
type ArtifactManager struct {
	mu           sync.RWMutex
	byID         map[string]*types.ArtifactAccumulator
	pendingSize  map[string]int64 // artifact_id -> declared size, commit-before-complete
}

// NewArtifactManager returns an empty manager.
func NewArtifactManager() *ArtifactManager {
	return &ArtifactManager{
		byID:        make(map[string]*types.ArtifactAccumulator),
		pendingSize: make(map[string]int64),
	}
}

// AddChunk appends chunk to its artifact's accumulator. Chunks may
// arrive before the artifact's commit record. Fails if the chunk is
// oversize, out of sequence, arrives after is_last, would push the
// artifact past MaxArtifactSize, or — on the final chunk — disagrees
// with an already-pending declared size.
func (m *ArtifactManager) AddChunk(chunk *types.ArtifactChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(chunk.Data) > ipc.MaxChunkSize {
		return fmt.Errorf("artifact %s: chunk size %d exceeds max %d",
			chunk.ArtifactID, len(chunk.Data), ipc.MaxChunkSize)
	}

	acc, ok := m.byID[chunk.ArtifactID]
	if !ok {
		acc = newAccumulator(chunk.ArtifactID)
		m.byID[chunk.ArtifactID] = acc
	}

	if chunk.Seq != acc.NextSeq {
		return fmt.Errorf("artifact %s: expected seq %d, got %d",
			chunk.ArtifactID, acc.NextSeq, chunk.Seq)
	}
	if acc.Complete {
		return fmt.Errorf("artifact %s: chunk received after is_last", chunk.ArtifactID)
	}

	total := acc.TotalBytes + int64(len(chunk.Data))
	if total > MaxArtifactSize {
		return fmt.Errorf("artifact %s: size %d exceeds max %d",
			chunk.ArtifactID, total, MaxArtifactSize)
	}

	acc.Chunks = append(acc.Chunks, chunk)
	acc.TotalBytes = total
	acc.NextSeq++

	if !chunk.IsLast {
		return nil
	}
	acc.Complete = true

	declared, pending := m.pendingSize[chunk.ArtifactID]
	if !pending {
		return nil
	}
	delete(m.pendingSize, chunk.ArtifactID)
	if acc.TotalBytes != declared {
		acc.ErrorState = true
		return fmt.Errorf("artifact %s: size mismatch (chunks=%d, declared=%d)",
			chunk.ArtifactID, acc.TotalBytes, declared)
	}
	acc.Committed = true
	return nil
}

// CommitArtifact records the commit record's declared size for artifactID.
// A commit may arrive before any chunks, between chunks, or after the
// last chunk; reconciliation only happens once the chunk stream is
// complete, so an early commit is simply remembered as pending.
func (m *ArtifactManager) CommitArtifact(artifactID string, sizeBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sizeBytes > MaxArtifactSize {
		return fmt.Errorf("artifact %s: declared size %d exceeds max %d",
			artifactID, sizeBytes, MaxArtifactSize)
	}

	acc, ok := m.byID[artifactID]
	if !ok {
		m.pendingSize[artifactID] = sizeBytes
		m.byID[artifactID] = newAccumulator(artifactID)
		return nil
	}

	if !acc.Complete {
		m.pendingSize[artifactID] = sizeBytes
		return nil
	}

	if acc.TotalBytes != sizeBytes {
		return fmt.Errorf("artifact %s: size mismatch (chunks=%d, declared=%d)",
			artifactID, acc.TotalBytes, sizeBytes)
	}
	acc.Committed = true
	return nil
}

func newAccumulator(artifactID string) *types.ArtifactAccumulator {
	return &types.ArtifactAccumulator{
		ArtifactID: artifactID,
		Chunks:     make([]*types.ArtifactChunk, 0),
		NextSeq:    1,
	}
}

// GetOrphanIDs returns artifacts that have received chunks but carry no
// commit — neither a reconciled one nor one still pending reconciliation
// — and have not already failed.
func (m *ArtifactManager) GetOrphanIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orphans []string
	for id, acc := range m.byID {
		if acc.Committed || acc.ErrorState || len(acc.Chunks) == 0 {
			continue
		}
		if _, pending := m.pendingSize[id]; pending {
			continue
		}
		orphans = append(orphans, id)
	}
	return orphans
}

// GetArtifact returns the accumulator tracked for artifactID, if any.
func (m *ArtifactManager) GetArtifact(artifactID string) (*types.ArtifactAccumulator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.byID[artifactID]
	return acc, ok
}

// IsCommitted reports whether artifactID has been reconciled and committed.
func (m *ArtifactManager) IsCommitted(artifactID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.byID[artifactID]
	return ok && acc.Committed
}

// ArtifactStats summarizes accumulator state across an entire run.
type ArtifactStats struct {
	TotalArtifacts     int64
	CommittedArtifacts int64
	OrphanedArtifacts  int64
	TotalChunks        int64
	TotalBytes         int64
}

// Stats computes an ArtifactStats snapshot over every artifact the
// manager has seen.
func (m *ArtifactManager) Stats() ArtifactStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s ArtifactStats
	for id, acc := range m.byID {
		s.TotalArtifacts++
		s.TotalChunks += int64(len(acc.Chunks))
		s.TotalBytes += acc.TotalBytes

		switch {
		case acc.Committed:
			s.CommittedArtifacts++
		case acc.ErrorState:
			// counted neither as committed nor orphaned
		case len(acc.Chunks) > 0:
			if _, pending := m.pendingSize[id]; !pending {
				s.OrphanedArtifacts++
			}
		}
	}
	return s
}
