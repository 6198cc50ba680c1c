package s3blob

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// fakeS3 serves the handful of path-style S3 calls the package makes.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

type listResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	MaxKeys     int           `xml:"MaxKeys"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
}

type listContent struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	Size         int    `xml:"Size"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(p, "/")
	if bucket != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case r.Method == http.MethodHead && key == "":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: bucket, Prefix: prefix, MaxKeys: 1000}
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			res.Contents = append(res.Contents, listContent{
				Key:          k,
				LastModified: "2018-03-10T12:00:00.000Z",
				Size:         len(f.objects[k]),
			})
		}
		res.KeyCount = len(res.Contents)
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(res)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()
	t.Setenv("AWS_REQUEST_CHECKSUM_CALCULATION", "when_required")
	t.Setenv("AWS_RESPONSE_CHECKSUM_VALIDATION", "when_required")

	fake := &fakeS3{bucket: "poe-pages", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "poe-pages",
		AccessKey:      "key",
		SecretKey:      "secret",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	return c, fake
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	require.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	require.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"localhost:9000", false, "http://localhost:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"https://r2.example.com", false, "https://r2.example.com"},
		{"http://minio:9000", true, "http://minio:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, normaliseEndpoint(tt.endpoint, tt.useSSL))
		})
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Health(ctx))

	w, r := NewWriter(c), NewReader(c)
	require.NoError(t, w.Put(ctx, "stash-pages/a.json", bytes.NewReader([]byte(`{"a":1}`)), "application/json"))

	rc, err := r.Get(ctx, "stash-pages/a.json")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))

	_, err = r.Get(ctx, "stash-pages/missing.json")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	infos, err := r.List(ctx, "stash-pages/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "stash-pages/a.json", infos[0].Path)
	assert.EqualValues(t, 7, infos[0].Size)
}

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	objects   map[string][]byte
	multipart int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart++
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func TestPagePath(t *testing.T) {
	at := time.Date(2018, 3, 10, 12, 0, 0, 0, time.UTC)
	key := PagePath("stash-pages", "123-456-789", at)
	assert.Equal(t, "stash-pages/2018/03/10/1520683200000000000_123-456-789.json", key)
	assert.Equal(t, "123-456-789", ChangeIDFromPath(key))
	assert.Equal(t, "", ChangeIDFromPath("stash-pages/readme.json"))

	got, ok := FetchedAtFromPath(key)
	require.True(t, ok)
	assert.True(t, at.Equal(got))
	_, ok = FetchedAtFromPath("stash-pages/readme.json")
	assert.False(t, ok)
}

func TestPageArchiverOrdersPages(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewPageArchiver(blobs, blobs, "")
	assert.Equal(t, DefaultPagePrefix, a.Prefix())

	base := time.Date(2018, 3, 10, 23, 59, 59, 0, time.UTC)
	_, err := a.Archive(ctx, "3-3", base.Add(2*time.Second), []byte(`{"next_change_id":"4-4"}`))
	require.NoError(t, err)
	_, err = a.Archive(ctx, "1-1", base, []byte(`{"next_change_id":"2-2"}`))
	require.NoError(t, err)
	blobs.objects["stash-pages/notes.txt"] = []byte("x")

	pages, err := a.Pages(ctx, "")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "1-1", ChangeIDFromPath(pages[0].Path))
	assert.Equal(t, "3-3", ChangeIDFromPath(pages[1].Path))

	day, err := a.Pages(ctx, "2018/03/11")
	require.NoError(t, err)
	require.Len(t, day, 1)

	raw, err := a.Open(ctx, pages[0].Path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"next_change_id":"2-2"}`, string(raw))

	_, err = a.Open(ctx, "stash-pages/none.json")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPageArchiverLargePageUsesMultipart(t *testing.T) {
	blobs := newMemBlobs()
	a := NewPageArchiver(blobs, nil, "archive/")
	_, err := a.Archive(context.Background(), "9-9", time.Unix(0, 0), make([]byte, multipartThreshold+1))
	require.NoError(t, err)
	assert.Equal(t, 1, blobs.multipart)

	_, err = a.Pages(context.Background(), "")
	assert.Error(t, err)
}
