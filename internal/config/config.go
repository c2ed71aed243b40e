package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
)

// Source names accepted in the "source" key.
const (
	SourceCDN   = "cdn"
	SourceS3    = "s3"
	SourceAzure = "azure"
)

// Config is the on-disk configuration (TOML).
//
//	data_dir = "/home/me/.config/csf-downloader"
//	concurrency = 6
//	source = "cdn"
//	proxy_mode = "no-proxy"
//
//	[s3]
//	bucket = "depot-mirror"
//	region = "us-east-1"
type Config struct {
	DataDir           string  `toml:"data_dir"`
	CacheDir          string  `toml:"cache_dir"`
	Concurrency       int     `toml:"concurrency"`
	CellID            uint32  `toml:"cell_id"`
	Source            string  `toml:"source"`
	DirectoryURL      string  `toml:"directory_url"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MaxRetries        int     `toml:"max_retries"`

	// Proxy settings
	ProxyMode     string `toml:"proxy_mode"` // no-proxy, system, basic, ntlm
	ProxyHost     string `toml:"proxy_host"`
	ProxyPort     int    `toml:"proxy_port"`
	ProxyUser     string `toml:"proxy_user"`
	ProxyPassword string `toml:"proxy_password"`
	NoProxy       string `toml:"no_proxy"`

	S3    S3Config    `toml:"s3"`
	Azure AzureConfig `toml:"azure"`
}

// S3Config locates an S3 bucket mirroring depot objects.
// Static keys are optional; without them the default AWS credential
// chain is used.
type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Prefix          string `toml:"prefix"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// AzureConfig locates an Azure Blob container mirroring depot objects.
// ContainerURL may carry a SAS token.
type AzureConfig struct {
	ContainerURL string `toml:"container_url"`
	Prefix       string `toml:"prefix"`
}

var (
	ErrInvalidConcurrency = fmt.Errorf("concurrency must be between %d and %d", constants.MinConcurrency, constants.MaxConcurrency)
	ErrInvalidSource      = errors.New("source must be one of cdn, s3, azure")
	ErrMissingBucket      = errors.New("s3.bucket is required when source is s3")
	ErrMissingContainer   = errors.New("azure.container_url is required when source is azure")
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		DataDir:      DefaultDataDir(),
		CacheDir:     DefaultCacheDir(),
		Concurrency:  constants.DefaultConcurrency,
		Source:       SourceCDN,
		DirectoryURL: constants.DefaultDirectoryURL,
		MaxRetries:   constants.MaxRetries,
		ProxyMode:    "no-proxy",
	}
}

// Load reads the file at path on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (Config, error) {
	c := Default()
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return c, nil
	case err != nil:
		return c, fmt.Errorf("could not open config file for reading '%s': %w", path, err)
	}
	defer f.Close()

	if _, err := toml.NewDecoder(f).Decode(&c); err != nil {
		return c, fmt.Errorf("could not decode config file '%s': %w", path, err)
	}
	c.applyDefaults()
	return c, c.Validate()
}

// Save writes the configuration to path, creating parent directories.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("could not open config file for writing '%s': %w", path, err)
	}
	defer f.Close()
	return c.Encode(f)
}

// Encode writes the configuration as TOML.
func (c Config) Encode(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("could not encode config: %w", err)
	}
	return nil
}

// Redacted returns a copy safe for display.
func (c Config) Redacted() Config {
	if c.ProxyPassword != "" {
		c.ProxyPassword = "********"
	}
	if c.S3.SecretAccessKey != "" {
		c.S3.SecretAccessKey = "********"
	}
	if i := strings.IndexByte(c.Azure.ContainerURL, '?'); i >= 0 {
		c.Azure.ContainerURL = c.Azure.ContainerURL[:i] + "?<sas>"
	}
	return c
}

// Validate checks value ranges and source-specific settings.
func (c Config) Validate() error {
	if c.Concurrency < constants.MinConcurrency || c.Concurrency > constants.MaxConcurrency {
		return ErrInvalidConcurrency
	}
	switch strings.ToLower(c.Source) {
	case SourceCDN:
	case SourceS3:
		if c.S3.Bucket == "" {
			return ErrMissingBucket
		}
	case SourceAzure:
		if c.Azure.ContainerURL == "" {
			return ErrMissingContainer
		}
	default:
		return ErrInvalidSource
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.Concurrency == 0 {
		c.Concurrency = d.Concurrency
	}
	c.Source = strings.ToLower(c.Source)
	if c.Source == "" {
		c.Source = d.Source
	}
	if c.DirectoryURL == "" {
		c.DirectoryURL = d.DirectoryURL
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.ProxyMode == "" {
		c.ProxyMode = d.ProxyMode
	}
}
