package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "daybrief/internal/log"
)

const (
	DefaultCacheDir = "./var/ics-cache"
	maxFeedBytes    = 10 << 20
	fetchParallel   = 4
)

// Feed is one subscribed calendar URL.
type Feed struct {
	ID   string
	Name string
	URL  string
}

// Document is a fetched feed body.
type Document struct {
	Feed Feed
	Body []byte
	// Stale is set when the body came from disk because the server said
	// 304 or could not be reached.
	Stale bool
}

type validators struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last good
// body of each feed on disk.
type Fetcher struct {
	client *http.Client
	dir    string
}

func NewFetcher(dir string, timeout time.Duration) *Fetcher {
	if dir == "" {
		dir = DefaultCacheDir
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, dir: dir}
}

// FetchAll fetches feeds in parallel. Failed feeds are logged and reported
// in the joined error; the documents of the others are still returned in
// feed order.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []Feed) ([]Document, error) {
	docs := make([]*Document, len(feeds))
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(fetchParallel)
	for i, feed := range feeds {
		g.Go(func() error {
			doc, err := f.Fetch(ctx, feed)
			if err != nil {
				appLog.Error("ics feed failed", err, "feed", feed.ID, "url", redactURL(feed.URL))
				mu.Lock()
				errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, err))
				mu.Unlock()
				return nil
			}
			docs[i] = &doc
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Document, 0, len(feeds))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, errors.Join(errs...)
}

// Fetch downloads one feed. A 304, a transport error or an error status
// falls back to the stored body when one exists.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (Document, error) {
	if feed.URL == "" {
		return Document{}, errors.New("feed url is empty")
	}

	dir := f.feedDir(feed.URL)
	meta := f.readValidators(dir)
	stored, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return Document{}, err
	}
	if len(stored) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	fallback := func(cause error) (Document, error) {
		if len(stored) == 0 {
			return Document{}, cause
		}
		appLog.Warn("ics feed unavailable, serving stored copy", "feed", feed.ID, "cause", cause.Error())
		return Document{Feed: feed, Body: stored, Stale: true}, nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if len(stored) == 0 {
			return Document{}, errors.New("304 not modified without a stored body")
		}
		appLog.Debug("ics feed not modified", "feed", feed.ID)
		return Document{Feed: feed, Body: stored, Stale: true}, nil

	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		if err != nil {
			return fallback(err)
		}
		next := validators{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			StoredAt:     time.Now().UTC(),
		}
		if err := f.store(dir, next, body); err != nil {
			appLog.Error("ics store failed", err, "feed", feed.ID)
		}
		appLog.Info("ics feed fetched", "feed", feed.ID, "bytes", len(body))
		return Document{Feed: feed, Body: body}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) feedDir(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) readValidators(dir string) validators {
	var v validators
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return v
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return validators{}
	}
	return v
}

// store writes the body before the validators so the metadata never points
// at a missing body.
func (f *Fetcher) store(dir string, meta validators, body []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, "body.ics"), body); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, "meta.json"), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// redactURL keeps only scheme and host; private feed URLs carry their
// secret in the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/(redacted)"
}
