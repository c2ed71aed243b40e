package cdn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
)

// maxDirectoryServers is the max_servers query parameter.
const maxDirectoryServers = 20

// DirectoryLister queries the content server directory web API.
type DirectoryLister struct {
	client  *retryablehttp.Client
	baseURL string
}

// NewDirectoryLister creates a lister for the directory endpoint at baseURL.
func NewDirectoryLister(client *retryablehttp.Client, baseURL string) *DirectoryLister {
	return &DirectoryLister{client: client, baseURL: baseURL}
}

type directoryResponse struct {
	Response struct {
		Servers []Server `json:"servers"`
	} `json:"response"`
}

// ListServers implements ServerLister.
func (d *DirectoryLister) ListServers(ctx context.Context, cellID uint32) ([]Server, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid directory URL %q: %w", d.baseURL, err)
	}
	q := u.Query()
	q.Set("cell_id", strconv.FormatUint(uint64(cellID), 10))
	q.Set("max_servers", strconv.Itoa(maxDirectoryServers))
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "list servers", URL: u.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &NetworkError{Op: "list servers", URL: u.String(), StatusCode: resp.StatusCode}
	}

	var body directoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &NetworkError{Op: "list servers", URL: u.String(), StatusCode: resp.StatusCode,
			Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return body.Response.Servers, nil
}
