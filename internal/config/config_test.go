package config

import (
	"os"
	"testing"
	"time"

	"github.com/jgivc/fileforager/internal/common"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const validMetadata = `upload_name: forager-upload
site: W023
sensor: camera-top
creator: jgivc
source_path: /data
device_name: node-w023
`

func TestLoadMetadata(t *testing.T) {
	testCases := []struct {
		name        string
		content     string
		noFile      bool
		expectError error
	}{
		{name: "valid", content: validMetadata},
		{name: "missing file", noFile: true, expectError: common.ErrNoMetadataFile},
		{
			name: "missing required key",
			content: `upload_name: x
site: W023
sensor: camera-top
creator: jgivc
`,
			expectError: common.ErrMissingMetadataKey,
		},
		{
			name: "empty required key",
			content: `upload_name: x
site: ""
sensor: camera-top
creator: jgivc
source_path: /data
`,
			expectError: common.ErrMissingMetadataKey,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			path := "/data/.forager/metadata.yaml"

			if !tc.noFile {
				err := afero.WriteFile(fs, path, []byte(tc.content), os.ModeAppend)
				require.NoError(t, err)
			}

			meta, err := LoadMetadata(fs, path)
			if tc.expectError != nil {
				require.ErrorIs(t, err, tc.expectError)

				return
			}

			require.NoError(t, err)
			require.Equal(t, "W023", meta["site"])
			require.Equal(t, "node-w023", meta.DeviceName())
		})
	}
}

func TestLoadMetadataUnparsable(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/data/.forager/metadata.yaml"
	err := afero.WriteFile(fs, path, []byte("site: [unclosed"), os.ModeAppend)
	require.NoError(t, err)

	_, err = LoadMetadata(fs, path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{Source: "/data"}
		cfg.SetDefaults()

		return cfg
	}

	testCases := []struct {
		name        string
		mutate      func(cfg *Config)
		expectError bool
	}{
		{name: "defaults are valid", mutate: func(cfg *Config) {}},
		{name: "bad sort key", mutate: func(cfg *Config) { cfg.Discover.SortKey = "size" }, expectError: true},
		{name: "bad timestamp source", mutate: func(cfg *Config) { cfg.Transfer.TimestampSource = "never" }, expectError: true},
		{name: "negative skip", mutate: func(cfg *Config) { cfg.Discover.SkipLastN = -1 }, expectError: true},
		{name: "zero max files", mutate: func(cfg *Config) { cfg.Transfer.MaxFiles = 0 }, expectError: true},
		{name: "negative delay", mutate: func(cfg *Config) { cfg.Transfer.Delay = -time.Second }, expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.expectError {
				require.Error(t, err)

				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSetDefaultsPropagatesSizePolicy(t *testing.T) {
	cfg := Config{Source: "/data"}
	cfg.Transfer.MaxFileSize = 1234
	cfg.SetDefaults()

	require.Equal(t, int64(1234), cfg.Discover.MaxFileSize)
}

func TestLoadTransportEnv(t *testing.T) {
	fs := afero.NewMemMapFs()
	envPath := "/data/.forager/.env"
	err := afero.WriteFile(fs, envPath, []byte(
		"FORAGER_ENDPOINT=https://ingest.example.org/upload\nFORAGER_TOPIC_PREFIX=w023\n",
	), os.ModeAppend)
	require.NoError(t, err)

	cfg := Config{Source: "/data"}
	cfg.SetDefaults()

	// Real environment wins over the file.
	t.Setenv(EnvTopicPrefix, "override")

	require.NoError(t, cfg.LoadTransportEnv(fs, envPath))
	require.Equal(t, "https://ingest.example.org/upload", cfg.Transport.Endpoint)
	require.Equal(t, "override", cfg.Transport.TopicPrefix)
}

func TestLoadTransportEnvMissingFile(t *testing.T) {
	cfg := Config{Source: "/data"}
	cfg.SetDefaults()

	require.NoError(t, cfg.LoadTransportEnv(afero.NewMemMapFs(), "/data/.forager/.env"))
	require.Equal(t, DefaultTopicPrefix, cfg.Transport.TopicPrefix)
}
