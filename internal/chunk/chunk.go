// Package chunk splits snapshot blobs into DynamoDB-item-sized pieces and
// computes the keys they are stored under.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxSize is the largest chunk that fits in a DynamoDB item (400 KB) with
// room left for the keys and bookkeeping attributes.
const MaxSize = 350 * 1024

// TablePK returns the partition key grouping the snapshots of one table.
// Table names are folded to lower case, matching unquoted SQL identifiers.
func TablePK(table string) string {
	return "table#" + strings.ToLower(table)
}

// SnapshotPK returns the partition key holding the chunks of one snapshot.
func SnapshotPK(snapshotID string) string {
	return "snapshot#" + snapshotID
}

// ManifestSK returns the sort key of a snapshot manifest. Snapshot IDs are
// UUIDv7, so lexical order is creation order.
func ManifestSK(snapshotID string) string {
	return "manifest#" + snapshotID
}

// SK returns the sort key of the chunk at index. Zero padding keeps lexical
// order equal to numeric order.
func SK(index int) string {
	return fmt.Sprintf("chunk#%06d", index)
}

// Split cuts data into pieces of at most size bytes. Empty data yields a
// single empty piece so every snapshot has at least one chunk. The pieces
// share data's backing array.
func Split(data []byte, size int) [][]byte {
	if size <= 0 || size > MaxSize {
		size = MaxSize
	}
	if len(data) == 0 {
		return [][]byte{{}}
	}
	pieces := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		pieces = append(pieces, data[start:end])
	}
	return pieces
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
