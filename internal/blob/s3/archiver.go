package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// DefaultPagePrefix is the key prefix of archived stash pages.
const DefaultPagePrefix = "stash-pages"

// multipartThreshold is the page size above which uploads are split.
const multipartThreshold = 16 * 1024 * 1024

// PageArchiver stores raw stash API pages so they can be replayed later.
// Keys sort in fetch order: <prefix>/YYYY/MM/DD/<unix nanos>_<change id>.json.
type PageArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewPageArchiver creates a PageArchiver. Either side may be nil when the
// caller only archives or only replays.
func NewPageArchiver(w domain.BlobWriter, r domain.BlobReader, prefix string) *PageArchiver {
	if prefix == "" {
		prefix = DefaultPagePrefix
	}
	return &PageArchiver{writer: w, reader: r, prefix: strings.TrimSuffix(prefix, "/")}
}

// Prefix returns the key prefix pages are written under.
func (a *PageArchiver) Prefix() string {
	return a.prefix
}

// Archive uploads one raw page fetched at fetchedAt for changeID and returns
// its key.
func (a *PageArchiver) Archive(ctx context.Context, changeID string, fetchedAt time.Time, raw []byte) (string, error) {
	if a.writer == nil {
		return "", fmt.Errorf("s3blob: archive page %s: no writer configured", changeID)
	}
	key := PagePath(a.prefix, changeID, fetchedAt)
	var err error
	if len(raw) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(raw), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(raw), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive page %s: %w", changeID, err)
	}
	return key, nil
}

// Pages lists archived pages under the archiver's prefix, or under a
// narrower sub-prefix such as "2018/03", in key order.
func (a *PageArchiver) Pages(ctx context.Context, sub string) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: list pages: no reader configured")
	}
	prefix := a.prefix + "/"
	if sub != "" {
		prefix += strings.TrimPrefix(sub, "/")
	}
	infos, err := a.reader.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list pages: %w", err)
	}
	pages := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".json") {
			pages = append(pages, info)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Path < pages[j].Path })
	return pages, nil
}

// Open reads the archived page stored at key.
func (a *PageArchiver) Open(ctx context.Context, key string) ([]byte, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: open page %s: no reader configured", key)
	}
	rc, err := a.reader.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("s3blob: open page %s: %w", key, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read page %s: %w", key, err)
	}
	return raw, nil
}

// PagePath builds the archive key of a page.
func PagePath(prefix, changeID string, fetchedAt time.Time) string {
	t := fetchedAt.UTC()
	return fmt.Sprintf("%s/%s/%019d_%s.json", prefix, t.Format("2006/01/02"), t.UnixNano(), changeID)
}

// ChangeIDFromPath extracts the change id a page was fetched with.
func ChangeIDFromPath(key string) string {
	name := strings.TrimSuffix(path.Base(key), ".json")
	if i := strings.IndexByte(name, '_'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// FetchedAtFromPath recovers the fetch time encoded in a page key.
func FetchedAtFromPath(key string) (time.Time, bool) {
	name := path.Base(key)
	i := strings.IndexByte(name, '_')
	if i <= 0 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(name[:i], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}
