package cdn

import (
	"context"
	"fmt"

	"github.com/ZazaJr24/CSF-Downloader/internal/config"
	"github.com/ZazaJr24/CSF-Downloader/internal/events"
	inthttp "github.com/ZazaJr24/CSF-Downloader/internal/http"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
	"github.com/ZazaJr24/CSF-Downloader/internal/storage"
)

// Open builds the Connection selected by cfg.Source. For the CDN source
// the returned ServerCache is the one backing the client; it is nil for
// mirror sources.
func Open(ctx context.Context, cfg *config.Config, cacheDir storage.Dir, keys KeyResolver, bus *events.EventBus, logger *logging.Logger) (Connection, *ServerCache, error) {
	httpClient, err := inthttp.NewClient(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	switch cfg.Source {
	case config.SourceS3:
		src, err := NewS3Source(ctx, cfg.S3, httpClient, keys, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil

	case config.SourceAzure:
		src, err := NewAzureSource(cfg.Azure, httpClient, keys, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil

	case config.SourceCDN, "":
		retryClient := inthttp.NewRetryClient(httpClient, cfg.MaxRetries, logger)
		lister := NewDirectoryLister(retryClient, cfg.DirectoryURL)
		servers := NewServerCache(cacheDir, lister, cfg.CellID, bus, logger)
		client := NewClient(retryClient, servers, keys, ClientOptions{Bus: bus, Logger: logger})
		return client, servers, nil

	default:
		return nil, nil, config.ErrInvalidSource
	}
}
