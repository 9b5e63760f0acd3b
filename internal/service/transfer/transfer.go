package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jgivc/fileforager/internal/config"
	"github.com/jgivc/fileforager/internal/entity"
	"github.com/jgivc/fileforager/internal/util"
	"github.com/spf13/afero"
)

const (
	TopicStatus = "status"
	TopicError  = "error"
	TopicStats  = "upload.stats"

	ReasonMaxSizeExceeded = "max_size_exceeded"
)

// Transport is the external boundary that moves file bytes off-box and
// carries free-form notifications. It may fail; a failure never aborts the
// batch.
type Transport interface {
	Upload(ctx context.Context, path string, meta map[string]string, timestamp int64, keep bool) error
	Publish(ctx context.Context, topic, message string) error
}

type Hasher interface {
	Sum(path string) (string, error)
}

type Ledger interface {
	RecordTransferred(rec *entity.TransferRecord) error
	RecordRejected(rec *entity.RejectRecord) error
}

// Summary is the outcome of one run.
type Summary struct {
	Transferred int
	TotalBytes  int64
}

type transferService struct {
	fs        afero.Fs
	cfg       *config.TransferConfig
	meta      entity.Metadata
	runID     string
	transport Transport
	hasher    Hasher
	ledger    Ledger
	now       func() time.Time
	log       *slog.Logger
}

func NewTransferService(cfg *config.TransferConfig, meta entity.Metadata, transport Transport, hasher Hasher, ledger Ledger, log *slog.Logger) *transferService {
	return NewTransferServiceWithFS(afero.NewOsFs(), cfg, meta, transport, hasher, ledger, log)
}

func NewTransferServiceWithFS(fs afero.Fs, cfg *config.TransferConfig, meta entity.Metadata, transport Transport, hasher Hasher, ledger Ledger, log *slog.Logger) *transferService {
	return &transferService{
		fs:        fs,
		cfg:       cfg,
		meta:      meta,
		runID:     uuid.NewString(),
		transport: transport,
		hasher:    hasher,
		ledger:    ledger,
		now:       time.Now,
		log:       log.With(slog.String("item", "TransferService")),
	}
}

// Run drives every candidate through the size policy, the hasher and the
// transport, recording each outcome before the next candidate is considered.
// It stops early once the configured success count is reached or the context
// is canceled, and always ends with one stats notification.
func (s *transferService) Run(ctx context.Context, candidates []*entity.Candidate) (*Summary, error) {
	s.log.Info("Starting run", slog.String("run_id", s.runID), slog.Int("candidates", len(candidates)))
	s.publish(ctx, TopicStatus, fmt.Sprintf("Found %d recent files. device_name: %s", len(candidates), s.meta.DeviceName()))

	sum := &Summary{}
	for i, c := range candidates {
		if sum.Transferred >= s.cfg.MaxFiles {
			s.log.Info("Reached max transfers for this run", slog.Int("max_files", s.cfg.MaxFiles))

			break
		}

		if i > 0 {
			if err := s.pause(ctx); err != nil {
				break
			}
		}

		if ok, size := s.process(ctx, c); ok {
			sum.Transferred++
			sum.TotalBytes += size
		}
	}

	s.publish(ctx, TopicStats, fmt.Sprintf("transferred_count: %d, total_bytes: %d, device_name: %s",
		sum.Transferred, sum.TotalBytes, s.meta.DeviceName()))
	s.log.Info("Run complete",
		slog.String("run_id", s.runID),
		slog.Int("transferred", sum.Transferred),
		slog.String("total_bytes", humanize.Bytes(uint64(sum.TotalBytes))))

	return sum, ctx.Err()
}

// process takes one candidate to a terminal state: transferred,
// rejected-oversize or rejected-error. The boolean reports success.
func (s *transferService) process(ctx context.Context, c *entity.Candidate) (bool, int64) {
	log := s.log.With(slog.String("path", c.Path))

	if s.cfg.MaxFileSize > 0 && c.Size > s.cfg.MaxFileSize {
		// Oversize files are rejected before any digest is computed and
		// before the transport is touched.
		log.Warn("Skipping oversize file", slog.String("size", humanize.Bytes(uint64(c.Size))))
		s.reject(c, ReasonMaxSizeExceeded)
		s.publish(ctx, TopicError, fmt.Sprintf("Skipped %s reason: %s device_name: %s",
			c.Path, ReasonMaxSizeExceeded, s.meta.DeviceName()))

		return false, 0
	}

	digest := c.Digest
	if digest == "" {
		var err error
		digest, err = s.hasher.Sum(c.Path)
		if err != nil {
			log.Error("Cannot hash file", slog.Any("error", err))
			s.reject(c, err.Error())
			s.publish(ctx, TopicError, fmt.Sprintf("Failed to upload %s error_details: %s, device_name: %s",
				c.Name, err, s.meta.DeviceName()))

			return false, 0
		}
	}

	uploadName := util.ApplyNameModifiers(c.Name, s.cfg.Prefix, s.cfg.Suffix)
	meta := s.meta.Merged(map[string]string{
		"original_path":                  c.Path,
		"filename":                       c.Name,
		"size_bytes":                     fmt.Sprintf("%d", c.Size),
		"last_modified_timestamp_source": util.ISOUTC(c.ModTime),
		"sha256_digest":                  digest,
	})

	if s.cfg.DryRun {
		log.Info("[dry run] Would upload file", slog.String("upload_name", uploadName))

		return true, c.Size
	}

	s.publish(ctx, TopicStatus, fmt.Sprintf("Uploading %s device_name: %s", uploadName, s.meta.DeviceName()))

	if err := s.transport.Upload(ctx, c.Path, meta, s.timestamp(c), true); err != nil {
		log.Error("Cannot upload file", slog.Any("error", err))
		s.reject(c, err.Error())
		s.publish(ctx, TopicError, fmt.Sprintf("Failed to upload %s error_details: %s, device_name: %s",
			c.Name, err, s.meta.DeviceName()))

		return false, 0
	}

	metaJSON, _ := json.Marshal(meta)
	if err := s.ledger.RecordTransferred(&entity.TransferRecord{
		OriginalPath: c.Path,
		UploadName:   uploadName,
		Size:         c.Size,
		ModTime:      c.ModTime,
		UploadedAt:   s.now(),
		Digest:       digest,
		MetadataJSON: string(metaJSON),
	}); err != nil {
		// The file is already off-box; a ledger write failure must not turn
		// the outcome into a rejection.
		log.Error("Cannot record transfer", slog.Any("error", err))
	}

	if s.cfg.DeleteAfter {
		if err := s.fs.Remove(c.Path); err != nil {
			log.Warn("Cannot delete source file", slog.Any("error", err))
		}
	}

	s.publish(ctx, TopicStatus, fmt.Sprintf("Uploaded %s device_name: %s", c.Name, s.meta.DeviceName()))
	log.Info("Uploaded file", slog.String("upload_name", uploadName), slog.String("size", humanize.Bytes(uint64(c.Size))))

	return true, c.Size
}

func (s *transferService) reject(c *entity.Candidate, reason string) {
	if err := s.ledger.RecordRejected(&entity.RejectRecord{
		Path:     c.Path,
		Reason:   reason,
		Size:     c.Size,
		ModTime:  c.ModTime,
		LoggedAt: s.now(),
	}); err != nil {
		s.log.Error("Cannot record rejection", slog.String("path", c.Path), slog.Any("error", err))
	}
}

// publish sends a notification tagged with the run id. Notification failures
// are logged and never affect a candidate's outcome.
func (s *transferService) publish(ctx context.Context, topic, message string) {
	if err := s.transport.Publish(ctx, topic, fmt.Sprintf("%s run_id: %s", message, s.runID)); err != nil {
		s.log.Warn("Cannot publish notification", slog.String("topic", topic), slog.Any("error", err))
	}
}

func (s *transferService) timestamp(c *entity.Candidate) int64 {
	if s.cfg.TimestampSource == config.TimestampSourceCurrent {
		return s.now().UnixNano()
	}

	return c.ModTime.UnixNano()
}

// pause waits the configured inter-candidate delay, rate limiting the
// outgoing stream regardless of the previous outcome.
func (s *transferService) pause(ctx context.Context) error {
	if s.cfg.Delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(s.cfg.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
