package ledger

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jgivc/fileforager/internal/entity"
	"github.com/spf13/afero"
)

// Column sets are a fixed schema. The modification time keeps nanosecond
// precision so a reloaded row compares equal to the one written.
var (
	transferredColumns = []string{
		"original_path", "filename_at_upload", "size_bytes",
		"last_modified_timestamp_source", "upload_timestamp_utc",
		"sha256_digest", "metadata_sent_json",
	}
	rejectedColumns = []string{
		"file_path", "reason_skipped", "size_bytes",
		"last_modified_timestamp_source", "log_timestamp_utc",
	}
)

type fileKey struct {
	size  int64
	mtime int64 // unix nanoseconds
}

type ledgerStore struct {
	fs              afero.Fs
	transferredPath string
	rejectedPath    string
	digests         map[string]struct{}
	files           map[string]fileKey
	log             *slog.Logger
}

func NewLedgerStore(transferredPath, rejectedPath string, log *slog.Logger) (*ledgerStore, error) {
	return NewLedgerStoreWithFS(afero.NewOsFs(), transferredPath, rejectedPath, log)
}

// NewLedgerStoreWithFS opens both backing files, creating them with headers
// if absent or malformed, and loads the full transferred set into memory for
// fast membership checks during the run.
func NewLedgerStoreWithFS(fs afero.Fs, transferredPath, rejectedPath string, log *slog.Logger) (*ledgerStore, error) {
	l := &ledgerStore{
		fs:              fs,
		transferredPath: transferredPath,
		rejectedPath:    rejectedPath,
		digests:         make(map[string]struct{}),
		files:           make(map[string]fileKey),
		log:             log.With(slog.String("item", "LedgerStore")),
	}

	if err := l.ensureFile(l.transferredPath, transferredColumns); err != nil {
		return nil, fmt.Errorf("cannot open transferred ledger: %w", err)
	}
	if err := l.ensureFile(l.rejectedPath, rejectedColumns); err != nil {
		return nil, fmt.Errorf("cannot open rejected ledger: %w", err)
	}

	records, err := l.LoadTransferred()
	if err != nil {
		return nil, fmt.Errorf("cannot load transferred ledger: %w", err)
	}

	for _, rec := range records {
		l.digests[rec.Digest] = struct{}{}
		l.files[rec.OriginalPath] = fileKey{size: rec.Size, mtime: rec.ModTime.UnixNano()}
	}

	l.log.Debug("Loaded transferred ledger", slog.Int("entries", len(records)))

	return l, nil
}

// IsTransferred reports whether content with this digest has already been
// transferred. Entries appended mid-run are included, though a single-pass
// run never relies on that.
func (l *ledgerStore) IsTransferred(digest string) bool {
	_, exists := l.digests[digest]

	return exists
}

// IsTransferredFile reports whether this exact path was already transferred
// with the same size and modification time. A cheap pre-check that lets
// callers skip hashing unchanged files; content dedup still catches renamed
// or moved duplicates.
func (l *ledgerStore) IsTransferredFile(path string, size int64, mtime time.Time) bool {
	key, exists := l.files[path]

	return exists && key.size == size && key.mtime == mtime.UnixNano()
}

func (l *ledgerStore) RecordTransferred(rec *entity.TransferRecord) error {
	row := []string{
		rec.OriginalPath,
		rec.UploadName,
		strconv.FormatInt(rec.Size, 10),
		rec.ModTime.UTC().Format(time.RFC3339Nano),
		rec.UploadedAt.UTC().Format(time.RFC3339),
		rec.Digest,
		rec.MetadataJSON,
	}

	if err := l.append(l.transferredPath, transferredColumns, row); err != nil {
		return fmt.Errorf("cannot record transfer: %w", err)
	}

	l.digests[rec.Digest] = struct{}{}
	l.files[rec.OriginalPath] = fileKey{size: rec.Size, mtime: rec.ModTime.UnixNano()}

	return nil
}

func (l *ledgerStore) RecordRejected(rec *entity.RejectRecord) error {
	row := []string{
		rec.Path,
		rec.Reason,
		strconv.FormatInt(rec.Size, 10),
		rec.ModTime.UTC().Format(time.RFC3339Nano),
		rec.LoggedAt.UTC().Format(time.RFC3339),
	}

	if err := l.append(l.rejectedPath, rejectedColumns, row); err != nil {
		return fmt.Errorf("cannot record rejection: %w", err)
	}

	return nil
}

// LoadTransferred reads all transferred rows from the backing file. Rows with
// unparsable fields are skipped with a warning rather than failing the load.
func (l *ledgerStore) LoadTransferred() ([]*entity.TransferRecord, error) {
	rows, err := l.loadRows(l.transferredPath, transferredColumns)
	if err != nil {
		return nil, err
	}

	records := make([]*entity.TransferRecord, 0, len(rows))
	for _, row := range rows {
		size, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			l.log.Warn("Skipping ledger row with bad size", slog.String("value", row[2]))

			continue
		}

		modTime, err := time.Parse(time.RFC3339Nano, row[3])
		if err != nil {
			l.log.Warn("Skipping ledger row with bad mtime", slog.String("value", row[3]))

			continue
		}

		uploadedAt, err := time.Parse(time.RFC3339, row[4])
		if err != nil {
			l.log.Warn("Skipping ledger row with bad upload time", slog.String("value", row[4]))

			continue
		}

		records = append(records, &entity.TransferRecord{
			OriginalPath: row[0],
			UploadName:   row[1],
			Size:         size,
			ModTime:      modTime,
			UploadedAt:   uploadedAt,
			Digest:       row[5],
			MetadataJSON: row[6],
		})
	}

	return records, nil
}

// LoadRejected reads all rejected rows from the backing file.
func (l *ledgerStore) LoadRejected() ([]*entity.RejectRecord, error) {
	rows, err := l.loadRows(l.rejectedPath, rejectedColumns)
	if err != nil {
		return nil, err
	}

	records := make([]*entity.RejectRecord, 0, len(rows))
	for _, row := range rows {
		size, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			l.log.Warn("Skipping ledger row with bad size", slog.String("value", row[2]))

			continue
		}

		modTime, err := time.Parse(time.RFC3339Nano, row[3])
		if err != nil {
			l.log.Warn("Skipping ledger row with bad mtime", slog.String("value", row[3]))

			continue
		}

		loggedAt, err := time.Parse(time.RFC3339, row[4])
		if err != nil {
			l.log.Warn("Skipping ledger row with bad log time", slog.String("value", row[4]))

			continue
		}

		records = append(records, &entity.RejectRecord{
			Path:     row[0],
			Reason:   row[1],
			Size:     size,
			ModTime:  modTime,
			LoggedAt: loggedAt,
		})
	}

	return records, nil
}

func (l *ledgerStore) loadRows(path string, columns []string) ([][]string, error) {
	f, err := l.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open ledger file %s: %w", path, err)
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(columns)

	all, err := reader.ReadAll()
	f.Close()
	if err != nil || len(all) == 0 || !sameColumns(all[0], columns) {
		// A malformed backing file is recreated empty with correct headers,
		// not treated as fatal.
		l.log.Warn("Recreating malformed ledger file", slog.String("path", path), slog.Any("error", err))
		if err := l.writeHeader(path, columns); err != nil {
			return nil, err
		}

		return nil, nil
	}

	return all[1:], nil
}

// ensureFile creates the backing file with the correct column header when it
// does not yet exist; an existing file is left untouched.
func (l *ledgerStore) ensureFile(path string, columns []string) error {
	exists, err := afero.Exists(l.fs, path)
	if err != nil {
		return fmt.Errorf("cannot stat ledger file %s: %w", path, err)
	}

	if exists {
		return nil
	}

	return l.writeHeader(path, columns)
}

func (l *ledgerStore) writeHeader(path string, columns []string) error {
	f, err := l.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("cannot create ledger file %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()

		return fmt.Errorf("cannot write ledger header: %w", err)
	}
	w.Flush()

	if err := w.Error(); err != nil {
		f.Close()

		return fmt.Errorf("cannot write ledger header: %w", err)
	}

	return f.Close()
}

// append writes one complete row and syncs it to durable storage before
// returning, so every outcome is on disk before the next candidate.
func (l *ledgerStore) append(path string, columns, row []string) error {
	if err := l.ensureFile(path, columns); err != nil {
		return err
	}

	f, err := l.fs.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open ledger file %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		f.Close()

		return fmt.Errorf("cannot append ledger row: %w", err)
	}
	w.Flush()

	if err := w.Error(); err != nil {
		f.Close()

		return fmt.Errorf("cannot append ledger row: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("cannot sync ledger file: %w", err)
	}

	return f.Close()
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
