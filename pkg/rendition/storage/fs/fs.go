package fs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tendant/simple-rendition/pkg/rendition"
)

// ProviderName is the default name recorded on renditions stored locally.
const ProviderName = "local"

// Backend is a filesystem implementation of the rendition.Provider interface
type Backend struct {
	mu        sync.RWMutex
	name      string
	baseDir   string
	urlPrefix string
}

// Config options for the filesystem backend
type Config struct {
	Name      string // Provider name recorded on renditions (default: "local")
	BaseDir   string // Directory that holds the uploads
	URLPrefix string // Public URL prefix of BaseDir (default: "/uploads")
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if config.Name == "" {
		config.Name = ProviderName
	}
	if config.URLPrefix == "" {
		config.URLPrefix = "/uploads"
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		name:      config.Name,
		baseDir:   filepath.Clean(config.BaseDir),
		urlPrefix: "/" + strings.Trim(config.URLPrefix, "/"),
	}, nil
}

// Name returns the provider name
func (b *Backend) Name() string {
	return b.name
}

// RequiresPolling is false: local writes are visible once Upload returns
func (b *Backend) RequiresPolling() bool {
	return false
}

// relativePath maps a locator (URL under the prefix, relative URL or bare
// file name) to a slash-separated path relative to baseDir.
func (b *Backend) relativePath(locator string) (string, error) {
	p := locator
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimPrefix(p, b.urlPrefix+"/")
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return "", fmt.Errorf("invalid locator %q", locator)
	}
	return p, nil
}

func (b *Backend) filePath(locator string) (string, error) {
	rel, err := b.relativePath(locator)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(rel)), nil
}

// Fetch reads a file from the filesystem
func (b *Backend) Fetch(ctx context.Context, locator string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	filePath, err := b.filePath(locator)
	if err != nil {
		return nil, rendition.NotFound(b.name, "fetch", locator)
	}

	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, rendition.NotFound(b.name, "fetch", locator)
	} else if err != nil {
		return nil, rendition.Transient(b.name, "fetch", locator, err)
	}
	return data, nil
}

// Exists checks whether the file is present
func (b *Backend) Exists(ctx context.Context, locator string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	filePath, err := b.filePath(locator)
	if err != nil {
		return false, nil
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, rendition.Transient(b.name, "exists", locator, err)
	}
	return true, nil
}

// Upload writes the bytes next to the source file
func (b *Backend) Upload(ctx context.Context, req rendition.UploadRequest) (*rendition.UploadResult, error) {
	if req.Name == "" {
		return nil, errors.New("upload name is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rel := path.Base(req.Name)
	if req.SourceLocator != "" {
		if srcRel, err := b.relativePath(req.SourceLocator); err == nil {
			if dir := path.Dir(srcRel); dir != "." {
				rel = path.Join(dir, rel)
			}
		}
	}
	filePath := filepath.Join(b.baseDir, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, rendition.Transient(b.name, "upload", rel, fmt.Errorf("failed to create directory: %w", err))
	}

	// Write to a temp file first so readers never see a partial file
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return nil, rendition.Transient(b.name, "upload", rel, fmt.Errorf("failed to create file: %w", err))
	}
	if _, err := tmp.Write(req.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, rendition.Transient(b.name, "upload", rel, fmt.Errorf("failed to write file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, rendition.Transient(b.name, "upload", rel, err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		return nil, rendition.Transient(b.name, "upload", rel, err)
	}

	return &rendition.UploadResult{
		URL:  b.urlPrefix + "/" + rel,
		Path: filePath,
	}, nil
}

// Delete deletes a file from the filesystem
func (b *Backend) Delete(ctx context.Context, locator string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	filePath, err := b.filePath(locator)
	if err != nil {
		return rendition.NotFound(b.name, "delete", locator)
	}

	// Check if file exists
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return rendition.NotFound(b.name, "delete", locator)
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return rendition.NotFound(b.name, "delete", locator)
		}
		return rendition.Transient(b.name, "delete", locator, fmt.Errorf("failed to delete file: %w", err))
	}

	// Clean up empty directories
	b.cleanupEmptyDirectories(filepath.Dir(filePath))

	return nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	// Don't remove the base directory
	if dir == b.baseDir || !strings.HasPrefix(dir, b.baseDir) {
		return
	}

	// Check if directory is empty
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
