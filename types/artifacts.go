//nolint:revive // types is a common Go package naming convention
package types

// ArtifactChunkFrame is the wire shape of an artifact chunk. Chunks
// are stream-level constructs, not emit events: they are discriminated
// from envelopes by Type == "artifact_chunk" and carry their own seq
// space (per artifact, starting at 1).
type ArtifactChunkFrame struct {
	Type       string `msgpack:"type"`
	ArtifactID string `msgpack:"artifact_id"`
	Seq        int64  `msgpack:"seq"`
	IsLast     bool   `msgpack:"is_last"`
	Data       []byte `msgpack:"data"`
}

// ArtifactChunk is the decoded, in-memory form of a chunk.
type ArtifactChunk struct {
	ArtifactID string
	Seq        int64
	IsLast     bool
	Data       []byte
}

// ArtifactAccumulator tracks reassembly state for one artifact.
type ArtifactAccumulator struct {
	ArtifactID string
	// Chunks are held in arrival order; Seq ordering is enforced on add.
	Chunks     []*ArtifactChunk
	TotalBytes int64
	// NextSeq is the next chunk sequence number the accumulator accepts.
	NextSeq int64
	// Complete is set once an is_last chunk has been seen.
	Complete bool
	// Committed is set once the artifact commit event has reconciled
	// against the accumulated size.
	Committed bool
	// ErrorState marks the accumulator permanently rejected (for
	// example a declared-size mismatch); all later operations fail.
	ErrorState bool
}
