package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"consultchat/pkg/domain"
)

// FallbackError signals the download fetch failed and the caller should
// open the raw URL directly instead of failing outright.
type FallbackError struct {
	URL string
	Err error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("download failed, open %s directly: %v", e.URL, e.Err)
}

func (e *FallbackError) Unwrap() error {
	return e.Err
}

// Downloader fetches attachment bytes and saves them under the original
// file name. Storage URLs carry opaque object keys, so saving by URL
// would lose the human-readable name.
type Downloader struct {
	httpClient *http.Client
}

// NewDownloader constructs a downloader.
func NewDownloader(httpClient *http.Client) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Downloader{httpClient: httpClient}
}

// Save fetches the attachment into dir and returns the saved path, always
// named after the attachment's original fileName. On fetch failure it
// returns a FallbackError carrying the raw URL.
func (d *Downloader) Save(ctx context.Context, att domain.Attachment, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return "", &FallbackError{URL: att.URL, Err: err}
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", &FallbackError{URL: att.URL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", &FallbackError{URL: att.URL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	target := filepath.Join(dir, safeFileName(att.FileName))
	out, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return target, nil
}

func safeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" || name == "." {
		return "attachment"
	}
	return name
}
