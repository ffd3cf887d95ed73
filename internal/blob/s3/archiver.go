package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

// PositionLister is the slice of domain.Ledger the archiver reads.
type PositionLister interface {
	ListPositions(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error)
}

// archivePageSize bounds each ledger query during an archive run.
const archivePageSize = 1000

// ArchiveImpl implements domain.Archiver by exporting terminal positions and
// audit entries as JSONL objects. Rows are copied, never deleted.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	positions PositionLister
	audit     domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, positions PositionLister, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, positions: positions, audit: audit}
}

// ArchivePositions uploads every settled or liquidated position created
// before the cutoff to archive/positions/YYYY-MM-DD.jsonl.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	var all []domain.Position
	for offset := 0; ; offset += archivePageSize {
		page, err := a.positions.ListPositions(ctx, domain.PositionFilter{
			Statuses: []domain.PositionStatus{domain.PositionStatusSettled, domain.PositionStatusLiquidated},
			Before:   &before,
			Limit:    archivePageSize,
			Offset:   offset,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
		}
		all = append(all, page...)
		if len(page) < archivePageSize {
			break
		}
	}
	return upload(ctx, a, "positions", before, all)
}

// ArchiveAudit uploads the audit entries written before the cutoff to
// archive/audit/YYYY-MM-DD.jsonl, oldest first.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	var all []domain.AuditEntry
	for offset := 0; ; offset += archivePageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{Until: &before, Limit: archivePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		all = append(all, page...)
		if len(page) < archivePageSize {
			break
		}
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return upload(ctx, a, "audit", before, all)
}

func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath partitions archives by cutoff day:
//
//	archive/positions/2026-05-01.jsonl
//	archive/audit/2026-05-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
