// Package upload validates and virus-scans user-supplied documents before
// they reach object storage.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/dutchcoders/go-clamd"

	"interviewly/internal/storage"
)

// MaxDocumentSize 简历等文档的大小上限。
const MaxDocumentSize = 10 << 20

// DocumentExts are the extensions accepted for CVs and resumes.
var DocumentExts = []string{".pdf", ".docx", ".txt"}

var (
	ErrUnsupportedType = errors.New("upload: unsupported file type")
	ErrTooLarge        = errors.New("upload: file too large")
	ErrEmpty           = errors.New("upload: file is empty")
	ErrInfected        = errors.New("upload: malicious file detected")
)

// File is a fully read upload.
type File struct {
	Name        string
	Ext         string
	ContentType string
	Data        []byte
}

// Read 读取 multipart 文件并校验扩展名与大小。
func Read(fh *multipart.FileHeader, allowedExts []string, maxSize int64) (*File, error) {
	ext := storage.Ext(fh.Filename)
	if !slices.Contains(allowedExts, ext) {
		return nil, fmt.Errorf("%w: %s (allowed: %s)", ErrUnsupportedType, ext, strings.Join(allowedExts, ", "))
	}
	if fh.Size > maxSize {
		return nil, ErrTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(ext, data)
	}
	return &File{Name: fh.Filename, Ext: ext, ContentType: contentType, Data: data}, nil
}

func contentTypeFor(ext string, data []byte) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return http.DetectContentType(data)
}

// Scanner checks a document for malware.
type Scanner interface {
	Scan(ctx context.Context, data []byte) error
}

// NewScanner returns a clamd-backed scanner, or a no-op one when addr is empty.
func NewScanner(addr string) Scanner {
	if strings.TrimSpace(addr) == "" {
		return nopScanner{}
	}
	return &ClamdScanner{client: clamd.NewClamd(addr)}
}

type nopScanner struct{}

func (nopScanner) Scan(context.Context, []byte) error { return nil }

// ClamdScanner streams documents to a clamd daemon.
type ClamdScanner struct {
	client *clamd.Clamd
}

func (s *ClamdScanner) Scan(ctx context.Context, data []byte) error {
	abort := make(chan bool)
	defer close(abort)

	results, err := s.client.ScanStream(bytes.NewReader(data), abort)
	if err != nil {
		return fmt.Errorf("clamd scan: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				return nil
			}
			switch res.Status {
			case clamd.RES_OK:
			case clamd.RES_FOUND:
				return fmt.Errorf("%w: %s", ErrInfected, res.Description)
			default:
				return fmt.Errorf("clamd scan: %s %s", res.Status, res.Description)
			}
		}
	}
}
