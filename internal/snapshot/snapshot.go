// Package snapshot saves rendered product pages that the classifier could not
// place, so selectors can be tuned against real markup.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"
)

// ContentType is stored alongside every snapshot object.
const ContentType = "text/html; charset=utf-8"

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, data io.Reader) (string, error)
}

// Recorder writes page snapshots under a prefix.
type Recorder struct {
	store  BlobStore
	prefix string
	now    func() time.Time
}

// NewRecorder builds a Recorder. A nil store yields a nil Recorder, which is a no-op.
func NewRecorder(store BlobStore, prefix string) *Recorder {
	if store == nil {
		return nil
	}
	return &Recorder{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record stores html for pageURL and returns the object URI.
func (r *Recorder) Record(ctx context.Context, pageURL string, html []byte) (string, error) {
	if r == nil {
		return "", nil
	}
	uri, err := r.store.PutObject(ctx, r.Key(pageURL, html), ContentType, bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}
	return uri, nil
}

// Key derives the object key: <prefix>/<host>/<yyyy-mm-dd>/<digest>.html.
func (r *Recorder) Key(pageURL string, html []byte) string {
	host := "unknown"
	if u, err := url.Parse(pageURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	sum := sha256.Sum256(html)
	name := hex.EncodeToString(sum[:8]) + ".html"
	return path.Join(r.prefix, host, r.now().Format("2006-01-02"), name)
}
