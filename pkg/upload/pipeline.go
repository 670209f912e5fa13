package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"consultchat/pkg/domain"
)

// MaxFileSize is the fixed attachment size ceiling.
const MaxFileSize = 10 << 20 // 10 MB

var (
	// ErrTooLarge rejects files over the size ceiling.
	ErrTooLarge = errors.New("file exceeds the 10 MB limit")
	// ErrUnsupportedType rejects files outside the mime allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// allowedMimeTypes is the upload allow-list: common image types plus the
// document formats clients exchange around a booking.
var allowedMimeTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"application/pdf": {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"text/plain": {},
}

// IsImageMime reports whether the mime type renders as an inline image.
func IsImageMime(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// File is a candidate attachment staged for upload.
type File struct {
	Name     string
	Size     int64
	MimeType string
	// Open returns a fresh reader over the file contents. It is invoked
	// once per upload attempt so retries restart from the beginning.
	Open func() (io.ReadCloser, error)
}

// Validate checks a candidate against the size ceiling and mime
// allow-list. It performs no I/O: rejected files never reach storage.
func Validate(f File) error {
	if f.Size > MaxFileSize {
		return fmt.Errorf("%s: %w", f.Name, ErrTooLarge)
	}
	mime := strings.ToLower(strings.TrimSpace(f.MimeType))
	if _, ok := allowedMimeTypes[mime]; !ok {
		return fmt.Errorf("%s (%s): %w", f.Name, f.MimeType, ErrUnsupportedType)
	}
	return nil
}

// UploadError identifies which staged file failed, so the user can remove
// or retry that specific file. Uploads are never retried automatically.
type UploadError struct {
	FileName string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.FileName, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Uploader sends file bytes to durable storage and returns the resolved
// attachment reference. *chatapi.Client satisfies this.
type Uploader interface {
	UploadAttachment(ctx context.Context, token, bookingID, fileName, mimeType string, size int64, r io.Reader) (domain.Attachment, error)
}

// ProgressFunc receives monotonically increasing progress (0-100) per file.
type ProgressFunc func(fileName string, percent int)

// Pipeline validates and uploads staged files for one conversation.
type Pipeline struct {
	uploader Uploader
	progress ProgressFunc
}

// NewPipeline constructs the pipeline. progress may be nil.
func NewPipeline(uploader Uploader, progress ProgressFunc) *Pipeline {
	return &Pipeline{uploader: uploader, progress: progress}
}

// Upload sends one file and reports progress until completion or failure.
func (p *Pipeline) Upload(ctx context.Context, token, bookingID string, f File) (domain.Attachment, error) {
	rc, err := f.Open()
	if err != nil {
		return domain.Attachment{}, &UploadError{FileName: f.Name, Err: err}
	}
	defer rc.Close()

	var body io.Reader = rc
	if p.progress != nil {
		body = &progressReader{r: rc, total: f.Size, name: f.Name, report: p.progress}
		p.progress(f.Name, 0)
	}
	att, err := p.uploader.UploadAttachment(ctx, token, bookingID, f.Name, f.MimeType, f.Size, body)
	if err != nil {
		return domain.Attachment{}, &UploadError{FileName: f.Name, Err: err}
	}
	if p.progress != nil {
		p.progress(f.Name, 100)
	}
	if att.IsImage != IsImageMime(att.MimeType) {
		att.IsImage = IsImageMime(att.MimeType)
	}
	return att, nil
}

// progressReader reports read progress, holding at 99 until the upload
// round-trip confirms completion.
type progressReader struct {
	r      io.Reader
	total  int64
	name   string
	report ProgressFunc

	mu   sync.Mutex
	read int64
	last int
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		percent := 99
		if p.total > 0 {
			if computed := int(p.read * 100 / p.total); computed < percent {
				percent = computed
			}
		}
		if percent > p.last {
			p.last = percent
			p.report(p.name, percent)
		}
		p.mu.Unlock()
	}
	return n, err
}
