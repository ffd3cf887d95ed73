package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/store/memory"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "multipart")
}

func seedPositions(t *testing.T, ledger *memory.Ledger, base time.Time) {
	t.Helper()
	statuses := []domain.PositionStatus{
		domain.PositionStatusSettled,
		domain.PositionStatusLiquidated,
		domain.PositionStatusHealthy,
		domain.PositionStatusSettled,
	}
	require.NoError(t, ledger.Atomic(context.Background(), func(tx domain.LedgerTx) error {
		for i, st := range statuses {
			p := domain.Position{
				Owner:     "alice",
				OrderID:   uint64(i + 1),
				Side:      domain.SideLong,
				Size:      1000,
				Status:    st,
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			}
			if err := tx.InsertPosition(context.Background(), p); err != nil {
				return err
			}
		}
		return nil
	}))
}

func readJSONL(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestArchivePositions(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	audit := memory.NewAuditStore()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	seedPositions(t, ledger, base)

	w := newMemWriter()
	a := NewArchiver(w, ledger, audit)

	// Order 4 is created at base+3h, after the cutoff.
	cutoff := base.Add(150 * time.Minute)
	n, err := a.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	path := "archive/positions/2026-05-01.jsonl"
	require.Contains(t, w.objects, path)
	assert.Equal(t, "application/x-ndjson", w.types[path])
	rows := readJSONL(t, w.objects[path])
	require.Len(t, rows, 2)
	assert.Equal(t, "settled", rows[0]["status"])
	assert.Equal(t, "liquidated", rows[1]["status"])

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.positions", entries[0].Event)
	assert.Equal(t, path, entries[0].Detail["path"])
}

func TestArchiveNothing(t *testing.T) {
	ctx := context.Background()
	w := newMemWriter()
	a := NewArchiver(w, memory.NewLedger(), memory.NewAuditStore())

	n, err := a.ArchivePositions(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = a.ArchiveAudit(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchiveAuditOldestFirst(t *testing.T) {
	ctx := context.Background()
	audit := memory.NewAuditStore()
	require.NoError(t, audit.Log(ctx, "first", nil))
	require.NoError(t, audit.Log(ctx, "second", nil))

	w := newMemWriter()
	a := NewArchiver(w, memory.NewLedger(), audit)
	cutoff := time.Now().Add(time.Minute)
	n, err := a.ArchiveAudit(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows := readJSONL(t, w.objects[archivePath("audit", cutoff)])
	require.Len(t, rows, 2)
	assert.Equal(t, "first", rows[0]["event"])
	assert.Equal(t, "second", rows[1]["event"])
}

func TestClientKeyPrefix(t *testing.T) {
	c := &Client{prefix: "vaultbot/prod"}
	assert.Equal(t, "vaultbot/prod/archive/audit/x.jsonl", c.key("archive/audit/x.jsonl"))
	assert.Equal(t, "archive/audit/x.jsonl", c.path("vaultbot/prod/archive/audit/x.jsonl"))

	bare := &Client{}
	assert.Equal(t, "archive/x", bare.key("archive/x"))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"localhost:9000", true, "https://localhost:9000"},
		{"s3.us-east-1.amazonaws.com", true, "https://s3.us-east-1.amazonaws.com"},
		{"https://s3.example.com", false, "https://s3.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, normaliseEndpoint(tt.endpoint, tt.useSSL))
		})
	}
}
