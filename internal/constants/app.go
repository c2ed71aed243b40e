package constants

import (
	"time"
)

// Application identity
const (
	// AppName - directory name used under the user config/cache dirs
	AppName = "csf-downloader"

	// ConfigFileName - TOML configuration file inside the config dir
	ConfigFileName = "config.toml"
)

// Download scheduling
const (
	// DefaultConcurrency - file reconstructions running at once
	DefaultConcurrency = 6

	// MinConcurrency - sequential mode
	MinConcurrency = 1

	// MaxConcurrency - upper bound accepted from flags and config
	MaxConcurrency = 32

	// CancelSettleTimeout - how long a stopped scheduler waits for
	// in-flight file tasks before reporting Cancelled
	CancelSettleTimeout = 5 * time.Second
)

// Progress display
const (
	// ProgressRefreshInterval - display refresh period (100ms)
	ProgressRefreshInterval = 100 * time.Millisecond

	// ProgressBarWidth - width of the mpb bars
	ProgressBarWidth = 60
)

// Persisted records
const (
	// ServerListTTL - content-server list is reused while younger than this
	ServerListTTL = 300 * time.Second

	// ServerListFile - content-server record in the cache dir
	ServerListFile = "cs_servers.json"

	// DepotKeysFile - default depot key store in the data dir
	DepotKeysFile = "depot_keys.json"

	// ManifestCacheDir - manifest cache subdirectory in the cache dir
	ManifestCacheDir = "manifests"
)

// Container (Format B) layout
const (
	// ContainerHeaderSize - xorkey_raw, payload_size and verify (3 x u32 LE)
	ContainerHeaderSize = 12

	// ContainerXORMask - mixed into xorkey_raw to derive the XOR byte
	ContainerXORMask = 0xFFFEA4C8

	// ContainerPreambleSize - bytes dropped from the inflated payload
	ContainerPreambleSize = 512
)

// Manifest section magics
const (
	ManifestPayloadMagic   = 0x71F617D0
	ManifestMetadataMagic  = 0x1F4812BE
	ManifestSignatureMagic = 0x1B81B817
	ManifestEndMagic       = 0x32C415AB
)

// Retry configuration
const (
	// MaxRetries - maximum number of attempts for a chunk or manifest fetch
	MaxRetries = 5

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	// Exponential backoff with jitter caps at this value
	RetryMaxDelay = 15 * time.Second
)

// Disk space safety margin
const (
	// DiskSpaceSafetyMargin - multiplier applied to the bytes still to write
	DiskSpaceSafetyMargin = 1.05
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios
	EventBusMaxBuffer = 4096
)

// Buffers
const (
	// VerifyBufferSize - pooled read buffer for chunk verification (1 MB).
	// Content chunks are at most 1 MB uncompressed; larger reads allocate.
	VerifyBufferSize = 1024 * 1024
)

// HTTP Client Timeouts
const (
	// HTTPDialTimeout - timeout for establishing TCP connections
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive interval for TCP connections
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPIdleConnTimeout - timeout for idle connections in the pool
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake
	HTTPTLSHandshakeTimeout = 30 * time.Second

	// HTTPExpectContinueTimeout - timeout for HTTP 100-continue
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPRequestTimeout - per-request timeout for CDN requests
	HTTPRequestTimeout = 60 * time.Second
)

// Content network
const (
	// DefaultDirectoryURL - content-server directory endpoint
	DefaultDirectoryURL = "https://api.steampowered.com/IContentServerDirectoryService/GetServersForSteamPipe/v1/"

	// ManifestRequestVersion - path segment used in manifest requests
	ManifestRequestVersion = 5
)
