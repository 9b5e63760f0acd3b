package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jgivc/fileforager/internal/entity"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	transferredPath = "/data/.forager/uploaded_files.csv"
	rejectedPath    = "/data/.forager/skipped_files.csv"
)

func newTestStore(t *testing.T, fs afero.Fs) *ledgerStore {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	store, err := NewLedgerStoreWithFS(fs, transferredPath, rejectedPath, log)
	require.NoError(t, err)

	return store
}

func TestCreatesFilesWithHeaders(t *testing.T) {
	fs := afero.NewMemMapFs()
	newTestStore(t, fs)

	content, err := afero.ReadFile(fs, transferredPath)
	require.NoError(t, err)
	require.Equal(t, strings.Join(transferredColumns, ","), strings.TrimSpace(string(content)))

	content, err = afero.ReadFile(fs, rejectedPath)
	require.NoError(t, err)
	require.Equal(t, strings.Join(rejectedColumns, ","), strings.TrimSpace(string(content)))
}

func TestTransferredRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	mtime := time.Date(2024, 5, 17, 9, 30, 45, 123456789, time.UTC)
	records := make([]*entity.TransferRecord, 0, 3)
	for i := 0; i < 3; i++ {
		rec := &entity.TransferRecord{
			OriginalPath: fmt.Sprintf("/data/file%d.txt", i),
			UploadName:   fmt.Sprintf("node-file%d.txt", i),
			Size:         int64(100 + i),
			ModTime:      mtime.Add(time.Duration(i) * time.Minute),
			UploadedAt:   time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC),
			Digest:       fmt.Sprintf("digest-%d", i),
			MetadataJSON: `{"site":"W023"}`,
		}
		require.NoError(t, store.RecordTransferred(rec))
		records = append(records, rec)
	}

	// Reload on a pre-existing file with the header already present.
	reopened := newTestStore(t, fs)
	loaded, err := reopened.LoadTransferred()
	require.NoError(t, err)
	require.Len(t, loaded, len(records))

	for i, rec := range records {
		require.Equal(t, rec.OriginalPath, loaded[i].OriginalPath)
		require.Equal(t, rec.UploadName, loaded[i].UploadName)
		require.Equal(t, rec.Size, loaded[i].Size)
		require.True(t, rec.ModTime.Equal(loaded[i].ModTime))
		require.True(t, rec.UploadedAt.Equal(loaded[i].UploadedAt))
		require.Equal(t, rec.Digest, loaded[i].Digest)
		require.Equal(t, rec.MetadataJSON, loaded[i].MetadataJSON)
	}

	// Column order is preserved on disk.
	f, err := fs.Open(transferredPath)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, transferredColumns, rows[0])
	require.Len(t, rows, len(records)+1)
}

func TestRejectedRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	rec := &entity.RejectRecord{
		Path:     "/data/big.bin",
		Reason:   "max_size_exceeded",
		Size:     1 << 31,
		ModTime:  time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC),
		LoggedAt: time.Date(2024, 5, 17, 9, 1, 0, 0, time.UTC),
	}
	require.NoError(t, store.RecordRejected(rec))

	loaded, err := store.LoadRejected()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, rec.Path, loaded[0].Path)
	require.Equal(t, rec.Reason, loaded[0].Reason)
	require.Equal(t, rec.Size, loaded[0].Size)
	require.True(t, rec.LoggedAt.Equal(loaded[0].LoggedAt))
}

func TestIsTransferred(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	require.False(t, store.IsTransferred("abc"))

	require.NoError(t, store.RecordTransferred(&entity.TransferRecord{
		OriginalPath: "/data/a.txt",
		UploadName:   "a.txt",
		Size:         1,
		ModTime:      time.Now(),
		UploadedAt:   time.Now(),
		Digest:       "abc",
	}))
	require.True(t, store.IsTransferred("abc"))

	// The digest survives a reopen: dedup is durable across runs.
	reopened := newTestStore(t, fs)
	require.True(t, reopened.IsTransferred("abc"))
	require.False(t, reopened.IsTransferred("def"))
}

func TestIsTransferredFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	mtime := time.Date(2024, 5, 17, 9, 30, 0, 500, time.UTC)
	require.NoError(t, store.RecordTransferred(&entity.TransferRecord{
		OriginalPath: "/data/a.txt",
		UploadName:   "a.txt",
		Size:         7,
		ModTime:      mtime,
		UploadedAt:   time.Now(),
		Digest:       "d1",
	}))

	require.True(t, store.IsTransferredFile("/data/a.txt", 7, mtime))
	require.False(t, store.IsTransferredFile("/data/a.txt", 8, mtime), "size changed")
	require.False(t, store.IsTransferredFile("/data/a.txt", 7, mtime.Add(time.Second)), "mtime changed")
	require.False(t, store.IsTransferredFile("/data/b.txt", 7, mtime), "different path")

	// The (path, size, mtime) index survives a reopen, nanoseconds included.
	reopened := newTestStore(t, fs)
	require.True(t, reopened.IsTransferredFile("/data/a.txt", 7, mtime))
}

func TestMalformedFileRecreated(t *testing.T) {
	fs := afero.NewMemMapFs()
	err := afero.WriteFile(fs, transferredPath, []byte("not,a,ledger\ngarbage"), os.ModeAppend)
	require.NoError(t, err)

	store := newTestStore(t, fs)
	require.False(t, store.IsTransferred("anything"))

	content, err := afero.ReadFile(fs, transferredPath)
	require.NoError(t, err)
	require.Equal(t, strings.Join(transferredColumns, ","), strings.TrimSpace(string(content)))
}

func TestAppendPreservesExistingRows(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	first := &entity.TransferRecord{
		OriginalPath: "/data/a.txt", UploadName: "a.txt", Size: 1,
		ModTime: time.Now().UTC(), UploadedAt: time.Now().UTC(), Digest: "d1",
	}
	require.NoError(t, store.RecordTransferred(first))

	second := &entity.TransferRecord{
		OriginalPath: "/data/b.txt", UploadName: "b.txt", Size: 2,
		ModTime: time.Now().UTC(), UploadedAt: time.Now().UTC(), Digest: "d2",
	}
	require.NoError(t, store.RecordTransferred(second))

	loaded, err := store.LoadTransferred()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, "d1", loaded[0].Digest)
	require.Equal(t, "d2", loaded[1].Digest)
}
