package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/NamanBalaji/tfm/internal/config"
	"github.com/NamanBalaji/tfm/internal/errors"
)

func withTempConfigHome(t *testing.T) (restore func(), dir string, file string) {
	t.Helper()
	orig := xdg.ConfigHome
	dir = t.TempDir()
	xdg.ConfigHome = dir
	restore = func() { xdg.ConfigHome = orig }
	file = filepath.Join(dir, "tfm", "config.yaml")
	return
}

func TestGetConfig_Table(t *testing.T) {
	restore, _, cfgFile := withTempConfigHome(t)
	defer restore()

	def := cfg.DefaultConfig()

	tests := []struct {
		name      string
		preWrite  bool
		contents  string
		expectErr bool
		check     func(t *testing.T, got *cfg.Config, def cfg.Config)
	}{
		{
			name:     "missing_file_returns_defaults",
			preWrite: false,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if !reflect.DeepEqual(*got, def) {
					t.Fatalf("expected defaults\nwant: %#v\ngot:  %#v", def, *got)
				}
			},
		},
		{
			name:     "empty_file_returns_defaults",
			preWrite: true,
			contents: "",
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if !reflect.DeepEqual(*got, def) {
					t.Fatalf("expected defaults\nwant: %#v\ngot:  %#v", def, *got)
				}
			},
		},
		{
			name:      "invalid_yaml_returns_error",
			preWrite:  true,
			contents:  ": not yaml",
			expectErr: true,
			check:     func(t *testing.T, _ *cfg.Config, _ cfg.Config) {},
		},
		{
			name:     "no_remote_uses_default_remote",
			preWrite: true,
			contents: "workers: 4\n",
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				assert.Equal(t, 4, got.Workers)
				assert.Equal(t, *def.Remote, *got.Remote)
				assert.Equal(t, def.ChunkSize, got.ChunkSize)
			},
		},
		{
			name:     "partial_override_and_fallback",
			preWrite: true,
			contents: `
chunkSize: 8388608
retryDelay: 3s
autoClean: true
remote:
  type: s3
  bucket: backups
  region: eu-west-1
`,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				assert.Equal(t, int64(8388608), got.ChunkSize)
				assert.Equal(t, 3*time.Second, got.RetryDelay)
				assert.True(t, got.AutoClean)
				assert.Equal(t, def.MaxRetries, got.MaxRetries)
				assert.Equal(t, def.StateDir, got.StateDir)
				assert.Equal(t, cfg.RemoteS3, got.Remote.Type)
				assert.Equal(t, "backups", got.Remote.Bucket)
				assert.Equal(t, "eu-west-1", got.Remote.Region)
				assert.Equal(t, def.Remote.Root, got.Remote.Root)
				assert.NoError(t, got.Validate())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = os.RemoveAll(filepath.Dir(cfgFile))
			if tt.preWrite {
				require.NoError(t, os.MkdirAll(filepath.Dir(cfgFile), 0o755))
				require.NoError(t, os.WriteFile(cfgFile, []byte(tt.contents), 0o644))
			}

			got, err := cfg.GetConfig()
			if tt.expectErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			tt.check(t, got, def)
		})
	}
}

func TestLoad_ReadError(t *testing.T) {
	_, err := cfg.Load(t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *cfg.Config {
		c := cfg.DefaultConfig()
		r := *c.Remote
		c.Remote = &r
		return &c
	}

	tests := []struct {
		name    string
		mutate  func(c *cfg.Config)
		wantErr bool
	}{
		{"defaults", func(c *cfg.Config) {}, false},
		{"zero chunk size", func(c *cfg.Config) { c.ChunkSize = 0 }, true},
		{"negative workers", func(c *cfg.Config) { c.Workers = -1 }, true},
		{"negative retries", func(c *cfg.Config) { c.MaxRetries = -1 }, true},
		{"negative global cap", func(c *cfg.Config) { c.MaxConcurrentChunks = -2 }, true},
		{"nil remote", func(c *cfg.Config) { c.Remote = nil }, true},
		{"fs without root", func(c *cfg.Config) { c.Remote.Root = "" }, true},
		{"unknown type", func(c *cfg.Config) { c.Remote.Type = "ftp" }, true},
		{"s3 without bucket", func(c *cfg.Config) { c.Remote.Type = cfg.RemoteS3 }, true},
		{"s3 with bucket", func(c *cfg.Config) {
			c.Remote.Type = cfg.RemoteS3
			c.Remote.Bucket = "b"
		}, false},
		{"s3 small chunks", func(c *cfg.Config) {
			c.Remote.Type = cfg.RemoteS3
			c.Remote.Bucket = "b"
			c.ChunkSize = 1024
		}, false},
		{"minio without endpoint", func(c *cfg.Config) {
			c.Remote.Type = cfg.RemoteMinio
			c.Remote.Bucket = "b"
		}, true},
		{"minio complete", func(c *cfg.Config) {
			c.Remote.Type = cfg.RemoteMinio
			c.Remote.Bucket = "b"
			c.Remote.Endpoint = "localhost:9000"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)

			err := c.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidArgument)
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestPaths(t *testing.T) {
	c := cfg.DefaultConfig()
	c.StateDir = "/var/lib/tfm"

	assert.Equal(t, "/var/lib/tfm/jobs.db", c.DBPath())
	assert.Equal(t, "/var/lib/tfm/tfm.log", c.LogPath())
}
