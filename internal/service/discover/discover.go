package discover

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jgivc/fileforager/internal/config"
	"github.com/jgivc/fileforager/internal/entity"
	"github.com/spf13/afero"
)

const (
	patternRecursive = "**/*"
	patternFlat      = "*"
)

type Hasher interface {
	Sum(path string) (string, error)
}

// TransferIndex answers whether content has already been transferred in a
// past run, either by content digest or by exact (path, size, mtime).
type TransferIndex interface {
	IsTransferred(digest string) bool
	IsTransferredFile(path string, size int64, mtime time.Time) bool
}

type discoverService struct {
	fs     afero.Fs
	cfg    *config.DiscoverConfig
	hasher Hasher
	index  TransferIndex
	log    *slog.Logger
}

func NewDiscoverService(cfg *config.DiscoverConfig, hasher Hasher, index TransferIndex, log *slog.Logger) *discoverService {
	return NewDiscoverServiceWithFS(afero.NewOsFs(), cfg, hasher, index, log)
}

func NewDiscoverServiceWithFS(fs afero.Fs, cfg *config.DiscoverConfig, hasher Hasher, index TransferIndex, log *slog.Logger) *discoverService {
	return &discoverService{
		fs:     fs,
		cfg:    cfg,
		hasher: hasher,
		index:  index,
		log:    log.With(slog.String("item", "DiscoverService")),
	}
}

// Discover walks the source root and returns the ordered, bounded list of
// candidates for this run. It has no side effects beyond logging.
func (s *discoverService) Discover(root string) ([]*entity.Candidate, error) {
	pattern := s.cfg.Pattern
	if pattern == "" {
		pattern = patternFlat
		if s.cfg.Recursive {
			pattern = patternRecursive
		}
	}

	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern: %s", pattern)
	}

	s.log.Info("Scanning for files", slog.String("root", root), slog.String("pattern", pattern))

	var entries []*entity.Candidate
	var err error
	if s.cfg.Recursive {
		entries, err = s.walk(root, pattern)
	} else {
		entries, err = s.list(root, pattern)
	}
	if err != nil {
		return nil, err
	}

	candidates := s.dropTransferred(entries)
	s.sortCandidates(candidates)

	if n := s.cfg.SkipLastN; n > 0 {
		if n >= len(candidates) {
			s.log.Info("Deferring all candidates", slog.Int("count", len(candidates)))

			return []*entity.Candidate{}, nil
		}

		s.log.Info("Deferring recently modified files", slog.Int("count", n))
		candidates = candidates[:len(candidates)-n]
	}

	return candidates, nil
}

func (s *discoverService) walk(root, pattern string) ([]*entity.Candidate, error) {
	var entries []*entity.Candidate

	err := afero.Walk(s.fs, root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return fmt.Errorf("cannot walk source root: %w", walkErr)
			}
			s.log.Warn("Cannot stat entry", slog.String("path", path), slog.Any("error", walkErr))

			return nil
		}

		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("cannot get relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if hasHiddenSegment(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if info.IsDir() {
			return nil
		}

		c, keep := s.examine(path, rel, pattern, info)
		if keep {
			entries = append(entries, c)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (s *discoverService) list(root, pattern string) ([]*entity.Candidate, error) {
	infos, err := afero.ReadDir(s.fs, root)
	if err != nil {
		return nil, fmt.Errorf("cannot read source root: %w", err)
	}

	var entries []*entity.Candidate
	for _, info := range infos {
		if info.IsDir() || hasHiddenSegment(info.Name()) {
			continue
		}

		c, keep := s.examine(filepath.Join(root, info.Name()), info.Name(), pattern, info)
		if keep {
			entries = append(entries, c)
		}
	}

	return entries, nil
}

// examine applies the symlink and pattern filters to one non-directory entry
// and builds a candidate from its stat data.
func (s *discoverService) examine(path, rel, pattern string, info os.FileInfo) (*entity.Candidate, bool) {
	if info.Mode()&os.ModeSymlink != 0 {
		if !s.cfg.IncludeSymlinks {
			s.log.Info("Skipping symlink", slog.String("path", path))

			return nil, false
		}

		// Candidates carry the target's size and mtime, as a transfer would
		// ship the target's bytes.
		target, err := s.fs.Stat(path)
		if err != nil {
			s.log.Warn("Cannot stat symlink target", slog.String("path", path), slog.Any("error", err))

			return nil, false
		}
		if target.IsDir() {
			return nil, false
		}
		info = target
	}

	ok, err := doublestar.Match(pattern, rel)
	if err != nil || !ok {
		return nil, false
	}

	return &entity.Candidate{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, true
}

// dropTransferred excludes entries whose content digest is already in the
// transferred set. Dedup is by content, not path, so a renamed or moved
// duplicate is still excluded. Entries over the size cap are passed through
// unhashed; the orchestrator rejects them before any digest is needed.
func (s *discoverService) dropTransferred(entries []*entity.Candidate) []*entity.Candidate {
	candidates := make([]*entity.Candidate, 0, len(entries))
	for _, c := range entries {
		if s.cfg.MaxFileSize > 0 && c.Size > s.cfg.MaxFileSize {
			candidates = append(candidates, c)

			continue
		}

		// An unchanged file at a known path needs no re-hash on every run.
		if s.index.IsTransferredFile(c.Path, c.Size, c.ModTime) {
			s.log.Debug("Skipping already transferred file", slog.String("path", c.Path))

			continue
		}

		digest, err := s.hasher.Sum(c.Path)
		if err != nil {
			s.log.Warn("Cannot hash file", slog.String("path", c.Path), slog.Any("error", err))

			continue
		}

		if s.index.IsTransferred(digest) {
			s.log.Debug("Skipping already transferred content", slog.String("path", c.Path), slog.String("digest", digest))

			continue
		}

		c.Digest = digest
		candidates = append(candidates, c)
	}

	return candidates
}

// sortCandidates orders by the configured key ascending, ties broken by name
// and then path for determinism.
func (s *discoverService) sortCandidates(candidates []*entity.Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if s.cfg.SortKey == config.SortKeyMTime && !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.Before(b.ModTime)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}

		return a.Path < b.Path
	})
}

func hasHiddenSegment(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}

	return false
}
