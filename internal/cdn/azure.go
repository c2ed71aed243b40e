package cdn

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/ZazaJr24/CSF-Downloader/internal/config"
	inthttp "github.com/ZazaJr24/CSF-Downloader/internal/http"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
)

// AzureSource reads depot objects from an Azure Blob container. The
// container URL may carry a SAS token.
type AzureSource struct {
	mirror
	client *container.Client
}

// NewAzureSource creates a source for the container in cfg, sending
// requests through httpClient.
func NewAzureSource(cfg config.AzureConfig, httpClient *nethttp.Client, keys KeyResolver, logger *logging.Logger) (*AzureSource, error) {
	if cfg.ContainerURL == "" {
		return nil, config.ErrMissingContainer
	}
	client, err := container.NewClientWithNoCredential(cfg.ContainerURL, &container.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: httpClient,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure container client: %w", err)
	}

	src := &AzureSource{client: client}
	src.mirror = mirror{
		prefix: cfg.Prefix,
		get:    src.getBlob,
		keys:   keys,
		retry:  inthttp.DefaultConfig(),
		logger: logging.OrNop(logger),
	}
	return src, nil
}

func (a *AzureSource) getBlob(ctx context.Context, key string) ([]byte, error) {
	blob := a.client.NewBlobClient(key)
	url := withoutQuery(blob.URL())
	resp, err := blob.DownloadStream(ctx, nil)
	if err != nil {
		ne := &NetworkError{Op: "azure get", URL: url, Err: err}
		var re *azcore.ResponseError
		if errors.As(err, &re) {
			ne.StatusCode = re.StatusCode
		}
		return nil, ne
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "azure get", URL: url, Err: err}
	}
	return data, nil
}

// withoutQuery drops the SAS token from a blob URL.
func withoutQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
