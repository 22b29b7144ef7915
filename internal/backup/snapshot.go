// Package backup snapshots the materialised summary collection to a
// portable JSON envelope, compresses it, and moves it through pluggable
// sinks: local files with lz4 framing for fast on-host archives, S3 with
// gzip for off-site copies. Restore writes the snapshot back preserving
// each summary's calculation metadata and protection flags.
package backup

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/example/carbonplane/internal/domain"
)

// snapshotType tags the envelope so a restore can refuse foreign files.
const snapshotType = "emission-summaries"

// snapshotVersion is the envelope format version.
const snapshotVersion = 1

// Snapshot is the portable backup envelope.
type Snapshot struct {
	Type      string                    `json:"type"`
	Timestamp time.Time                 `json:"timestamp"`
	Version   int                       `json:"version"`
	Count     int                       `json:"count"`
	Data      []*domain.EmissionSummary `json:"data"`
	Metadata  map[string]any            `json:"metadata,omitempty"`
}

// Validate checks the envelope header before a restore touches the store.
func (s *Snapshot) Validate() error {
	if s.Type != snapshotType {
		return domain.Errorf(domain.KindValidation, "backup.validate",
			"unexpected snapshot type %q", s.Type)
	}

	if s.Version != snapshotVersion {
		return domain.Errorf(domain.KindValidation, "backup.validate",
			"unsupported snapshot version %d", s.Version)
	}

	if s.Count != len(s.Data) {
		return domain.Errorf(domain.KindValidation, "backup.validate",
			"count %d does not match %d documents", s.Count, len(s.Data))
	}

	return nil
}

// Compression selects the snapshot framing.
type Compression string

const (
	CompressGzip Compression = "gzip"
	CompressLZ4  Compression = "lz4"
)

// Encode serialises and compresses the snapshot.
func Encode(snapshot *Snapshot, compression Compression) ([]byte, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	var buf bytes.Buffer

	switch compression {
	case CompressLZ4:
		w := lz4.NewWriter(&buf)
		if _, err = w.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}

		if err = w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 flush: %w", err)
		}
	default:
		w := gzip.NewWriter(&buf)
		if _, err = w.Write(payload); err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}

		if err = w.Close(); err != nil {
			return nil, fmt.Errorf("gzip flush: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// Decode decompresses and parses a snapshot, validating the envelope.
func Decode(raw []byte, compression Compression) (*Snapshot, error) {
	var (
		reader io.Reader
		err    error
	)

	switch compression {
	case CompressLZ4:
		reader = lz4.NewReader(bytes.NewReader(raw))
	default:
		reader, err = gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip open: %w", err)
		}
	}

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var snapshot Snapshot
	if err = json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	if err = snapshot.Validate(); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

// CompressionForKey infers the framing from an object key's suffix.
func CompressionForKey(key string) Compression {
	if len(key) > 4 && key[len(key)-4:] == ".lz4" {
		return CompressLZ4
	}

	return CompressGzip
}
