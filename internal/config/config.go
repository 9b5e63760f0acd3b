package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jgivc/fileforager/internal/common"
	"github.com/jgivc/fileforager/internal/entity"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

const (
	ConfigDirName       = ".forager"
	MetadataFileName    = "metadata.yaml"
	EnvFileName         = ".env"
	TransferredFileName = "uploaded_files.csv"
	RejectedFileName    = "skipped_files.csv"

	SortKeyMTime = "mtime"
	SortKeyName  = "name"

	TimestampSourceMTime   = "mtime"
	TimestampSourceCurrent = "current"

	EnvEndpoint    = "FORAGER_ENDPOINT"
	EnvToken       = "FORAGER_TOKEN"
	EnvRedisURL    = "FORAGER_REDIS_URL"
	EnvTopicPrefix = "FORAGER_TOPIC_PREFIX"

	DefaultSource      = "/data"
	DefaultMaxFileSize = 1 << 30 // 1 GiB
	DefaultMaxFiles    = 10
	DefaultSkipLastN   = 1
	DefaultDelay       = 3 * time.Second
	DefaultTopicPrefix = "forager"
)

// RequiredMetadataKeys must be present and non-empty in the metadata file or
// the run aborts before any file is touched.
var RequiredMetadataKeys = []string{"upload_name", "site", "sensor", "creator", "source_path"}

type DiscoverConfig struct {
	Pattern         string
	Recursive       bool
	SkipLastN       int
	SortKey         string
	IncludeSymlinks bool
	MaxFileSize     int64
}

type TransferConfig struct {
	MaxFileSize     int64
	MaxFiles        int
	Delay           time.Duration
	Prefix          string
	Suffix          string
	DryRun          bool
	DeleteAfter     bool
	TimestampSource string
}

type TransportConfig struct {
	Endpoint    string
	Token       string
	RedisURL    string
	TopicPrefix string
}

type Config struct {
	Source    string
	Debug     bool
	Discover  DiscoverConfig
	Transfer  TransferConfig
	Transport TransportConfig
}

func (c *Config) SetDefaults() {
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.Discover.SortKey == "" {
		c.Discover.SortKey = SortKeyMTime
	}
	if c.Transfer.MaxFileSize == 0 {
		c.Transfer.MaxFileSize = DefaultMaxFileSize
	}
	if c.Transfer.MaxFiles == 0 {
		c.Transfer.MaxFiles = DefaultMaxFiles
	}
	if c.Transfer.TimestampSource == "" {
		c.Transfer.TimestampSource = TimestampSourceMTime
	}
	if c.Transport.TopicPrefix == "" {
		c.Transport.TopicPrefix = DefaultTopicPrefix
	}

	// The size policy belongs to the orchestrator, but the discoverer needs it
	// too so oversize entries are never hashed.
	c.Discover.MaxFileSize = c.Transfer.MaxFileSize
}

func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source must not be empty")
	}

	switch c.Discover.SortKey {
	case SortKeyMTime, SortKeyName:
	default:
		return fmt.Errorf("unknown sort key: %s", c.Discover.SortKey)
	}

	switch c.Transfer.TimestampSource {
	case TimestampSourceMTime, TimestampSourceCurrent:
	default:
		return fmt.Errorf("unknown timestamp source: %s", c.Transfer.TimestampSource)
	}

	if c.Discover.SkipLastN < 0 {
		return fmt.Errorf("skip-last-n must not be negative")
	}

	if c.Transfer.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive")
	}

	if c.Transfer.MaxFiles <= 0 {
		return fmt.Errorf("max files must be positive")
	}

	if c.Transfer.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}

	return nil
}

func (c *Config) ConfigDir() string {
	return filepath.Join(c.Source, ConfigDirName)
}

func (c *Config) MetadataPath() string {
	return filepath.Join(c.ConfigDir(), MetadataFileName)
}

func (c *Config) EnvPath() string {
	return filepath.Join(c.ConfigDir(), EnvFileName)
}

func (c *Config) TransferredPath() string {
	return filepath.Join(c.ConfigDir(), TransferredFileName)
}

func (c *Config) RejectedPath() string {
	return filepath.Join(c.ConfigDir(), RejectedFileName)
}

// LoadMetadata reads the run metadata file and validates that every required
// key is present and non-empty.
func LoadMetadata(fs afero.Fs, path string) (entity.Metadata, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrNoMetadataFile, path)
		}

		return nil, fmt.Errorf("cannot read metadata file: %w", err)
	}

	var meta entity.Metadata
	if err := yaml.Unmarshal(content, &meta); err != nil {
		return nil, fmt.Errorf("cannot parse metadata file: %w", err)
	}

	for _, key := range RequiredMetadataKeys {
		if meta[key] == "" {
			return nil, fmt.Errorf("%w: %s", common.ErrMissingMetadataKey, key)
		}
	}

	return meta, nil
}

// LoadTransportEnv fills the transport settings from an optional env file in
// the config dir. Real environment variables win over file values so deployed
// instances can override the on-disk defaults.
func (c *Config) LoadTransportEnv(fs afero.Fs, path string) error {
	fileVals := make(map[string]string)

	f, err := fs.Open(path)
	if err == nil {
		fileVals, err = godotenv.Parse(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("cannot parse env file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot open env file %s: %w", path, err)
	}

	get := func(key, def string) string {
		if v, exists := os.LookupEnv(key); exists {
			return v
		}
		if v, exists := fileVals[key]; exists {
			return v
		}

		return def
	}

	c.Transport.Endpoint = get(EnvEndpoint, c.Transport.Endpoint)
	c.Transport.Token = get(EnvToken, c.Transport.Token)
	c.Transport.RedisURL = get(EnvRedisURL, c.Transport.RedisURL)
	c.Transport.TopicPrefix = get(EnvTopicPrefix, c.Transport.TopicPrefix)

	return nil
}
