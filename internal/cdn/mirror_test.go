package cdn

import (
	"context"
	"crypto/sha1"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZazaJr24/CSF-Downloader/internal/config"
	"github.com/ZazaJr24/CSF-Downloader/internal/depotkeys"
	inthttp "github.com/ZazaJr24/CSF-Downloader/internal/http"
)

func TestObjectKeys(t *testing.T) {
	sha := []byte{0xde, 0xad, 0xbe, 0xef}
	assert.Equal(t, "depot/5/chunk/deadbeef", ChunkObjectKey("", 5, sha))
	assert.Equal(t, "mirror/depot/5/chunk/deadbeef", ChunkObjectKey("/mirror", 5, sha))
	assert.Equal(t, "mirror/depot/5/manifest/77", ManifestObjectKey("mirror/", 5, 77))
}

func fakeMirror(objects map[string][]byte, failures map[string]int) *mirror {
	return &mirror{
		prefix: "p",
		keys:   staticKeys{9: testDepotKey},
		retry:  inthttp.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		get: func(ctx context.Context, key string) ([]byte, error) {
			if failures[key] > 0 {
				failures[key]--
				return nil, &NetworkError{Op: "get", URL: key, StatusCode: nethttp.StatusServiceUnavailable}
			}
			data, ok := objects[key]
			if !ok {
				return nil, &NetworkError{Op: "get", URL: key, StatusCode: nethttp.StatusNotFound}
			}
			return data, nil
		},
	}
}

func TestMirror_FetchChunkRetriesServerErrors(t *testing.T) {
	content := []byte("mirrored chunk")
	sum := sha1.Sum(content)
	key := ChunkObjectKey("p", 9, sum[:])

	m := fakeMirror(map[string][]byte{key: encodeChunk(t, content, testDepotKey)}, map[string]int{key: 2})
	data, err := m.FetchChunk(context.Background(), 9, sum[:])
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestMirror_Errors(t *testing.T) {
	m := fakeMirror(map[string][]byte{ManifestObjectKey("p", 9, 1): []byte("m")}, nil)

	data, err := m.FetchManifest(context.Background(), 0, 9, 1)
	require.NoError(t, err)
	assert.Equal(t, "m", string(data))

	_, err = m.FetchManifest(context.Background(), 0, 9, 2)
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.NotFound())

	_, err = m.FetchChunk(context.Background(), 10, []byte{1})
	var missing *depotkeys.MissingKeyError
	assert.True(t, errors.As(err, &missing))
}

func TestS3Source(t *testing.T) {
	content := []byte("from s3")
	sum := sha1.Sum(content)
	raw := encodeChunk(t, content, testDepotKey)

	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.URL.Path == "/depots/mirror/"+ChunkObjectKey("", 9, sum[:]) {
			w.Write(raw)
			return
		}
		w.WriteHeader(nethttp.StatusNotFound)
	}))
	defer srv.Close()

	src, err := NewS3Source(context.Background(), config.S3Config{
		Bucket:          "depots",
		Region:          "us-east-1",
		Prefix:          "mirror",
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	}, srv.Client(), staticKeys{9: testDepotKey}, nil)
	require.NoError(t, err)

	data, err := src.FetchChunk(context.Background(), 9, sum[:])
	require.NoError(t, err)
	assert.Equal(t, content, data)

	_, err = src.FetchManifest(context.Background(), 0, 9, 404)
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, nethttp.StatusNotFound, ne.StatusCode)
	assert.True(t, strings.HasPrefix(ne.URL, "s3://depots/mirror/"))
}

func TestS3Source_RequiresBucket(t *testing.T) {
	_, err := NewS3Source(context.Background(), config.S3Config{}, nethttp.DefaultClient, staticKeys{}, nil)
	assert.ErrorIs(t, err, config.ErrMissingBucket)
}

func TestAzureSource(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.URL.Path == "/depots/"+ManifestObjectKey("", 9, 1) {
			w.Write([]byte("azure manifest"))
			return
		}
		w.Header().Set("x-ms-error-code", "BlobNotFound")
		w.WriteHeader(nethttp.StatusNotFound)
	}))
	defer srv.Close()

	src, err := NewAzureSource(config.AzureConfig{ContainerURL: srv.URL + "/depots?sv=2024&sig=abc"},
		srv.Client(), staticKeys{}, nil)
	require.NoError(t, err)

	data, err := src.FetchManifest(context.Background(), 0, 9, 1)
	require.NoError(t, err)
	assert.Equal(t, "azure manifest", string(data))

	_, err = src.FetchManifest(context.Background(), 0, 9, 2)
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, nethttp.StatusNotFound, ne.StatusCode)
	assert.NotContains(t, ne.URL, "sig=")

	_, err = NewAzureSource(config.AzureConfig{}, nil, staticKeys{}, nil)
	assert.ErrorIs(t, err, config.ErrMissingContainer)
}
