package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/badgeflow/internal/storage"
)

// EmitRequest is one finished file ready to leave the pipeline.
type EmitRequest struct {
	SessionID   string
	Name        string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

type Output struct {
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
	URL    string `json:"url,omitempty"`
	Bytes  int    `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Emitter delivers a finished file somewhere the user can fetch it.
type Emitter interface {
	Emit(ctx context.Context, req EmitRequest) (Output, error)
}

// DiscardEmitter accepts every file and stores nothing.
type DiscardEmitter struct{}

func (DiscardEmitter) Emit(_ context.Context, req EmitRequest) (Output, error) {
	return outputFor(req, "", ""), nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(ctx context.Context, req EmitRequest) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return Output{}, errors.New("file name is required")
	}

	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	sessionDir := filepath.Join(e.OutputDir, sanitizePathToken(req.SessionID))
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(sessionDir, sanitizeFileName(req.Name))
	if err := os.WriteFile(fullPath, req.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}
	return outputFor(req, fullPath, ""), nil
}

type objectWriter interface {
	Put(ctx context.Context, obj storage.Object) error
	Link(ctx context.Context, key, downloadName string, ttl time.Duration) (string, error)
}

// ObjectStoreEmitter archives files in the configured bucket and returns a
// presigned download link.
type ObjectStoreEmitter struct {
	Storage      objectWriter
	OutputPrefix string
	LinkTTL      time.Duration
}

func NewObjectStoreEmitter(client *storage.Client, prefix string, linkTTL time.Duration) ObjectStoreEmitter {
	return ObjectStoreEmitter{Storage: client, OutputPrefix: prefix, LinkTTL: linkTTL}
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req EmitRequest) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return Output{}, errors.New("file name is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.SessionID),
		sanitizeFileName(req.Name),
	)
	contentType := req.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	obj := storage.Object{
		Key:          objectKey,
		Data:         req.Data,
		ContentType:  contentType,
		DownloadName: req.Name,
		Metadata: map[string]string{
			"session-id": req.SessionID,
			"dimensions": fmt.Sprintf("%dx%d", req.Width, req.Height),
		},
	}
	if err := e.Storage.Put(ctx, obj); err != nil {
		return Output{}, err
	}

	ttl := e.LinkTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	url, err := e.Storage.Link(ctx, objectKey, req.Name, ttl)
	if err != nil {
		return Output{}, err
	}
	return outputFor(req, objectKey, url), nil
}

func outputFor(req EmitRequest, path, url string) Output {
	return Output{
		Name:   req.Name,
		Path:   path,
		URL:    url,
		Bytes:  len(req.Data),
		Width:  req.Width,
		Height: req.Height,
	}
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "exports"
	}
	return prefix
}

func sanitizeFileName(name string) string {
	ext := filepath.Ext(name)
	return sanitizePathToken(strings.TrimSuffix(name, ext)) + strings.ToLower(ext)
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
