package memory

import (
	"context"
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/simple-rendition/pkg/rendition"
)

// ProviderName is the default name recorded on renditions stored in memory.
const ProviderName = "memory"

// Config options for the in-memory backend
type Config struct {
	Name string
	// BaseURL prefixes object URLs (default: "https://memory.invalid").
	BaseURL string
	// VisibleAfter hides a freshly written object from the first N
	// existence checks, imitating an eventually consistent store.
	VisibleAfter int
}

type object struct {
	data []byte
	mime string
}

// Backend is an in-memory implementation of the rendition.Provider interface
type Backend struct {
	mu           sync.RWMutex
	name         string
	baseURL      string
	visibleAfter int
	objects      map[string]object
	hidden       map[string]int
	checks       map[string]int
	failures     map[string]error
}

// New creates a new in-memory storage backend
func New(config Config) *Backend {
	if config.Name == "" {
		config.Name = ProviderName
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://memory.invalid"
	}
	return &Backend{
		name:         config.Name,
		baseURL:      strings.TrimSuffix(config.BaseURL, "/"),
		visibleAfter: config.VisibleAfter,
		objects:      make(map[string]object),
		hidden:       make(map[string]int),
		checks:       make(map[string]int),
		failures:     make(map[string]error),
	}
}

// Name returns the provider name
func (b *Backend) Name() string {
	return b.name
}

// RequiresPolling is true so the backend exercises the availability poller
func (b *Backend) RequiresPolling() bool {
	return true
}

// Key maps a locator to the object key
func (b *Backend) Key(locator string) string {
	if strings.HasPrefix(locator, b.baseURL+"/") {
		return strings.TrimPrefix(locator, b.baseURL+"/")
	}
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		return strings.TrimPrefix(u.Path, "/")
	}
	return strings.TrimPrefix(locator, "/")
}

// URL returns the public URL of a key
func (b *Backend) URL(key string) string {
	return b.baseURL + "/" + key
}

// Put stores an object directly, subject to VisibleAfter, and returns its URL
func (b *Backend) Put(key string, data []byte, mime string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.put(key, data, mime)
	return b.URL(key)
}

func (b *Backend) put(key string, data []byte, mime string) {
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[key] = object{data: cp, mime: mime}
	if b.visibleAfter > 0 {
		b.hidden[key] = b.visibleAfter
	}
}

// Get returns a stored object regardless of visibility
func (b *Backend) Get(key string) ([]byte, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	return obj.data, obj.mime, ok
}

// Keys lists stored keys in order
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Checks returns how many existence checks were issued for a locator
func (b *Backend) Checks(locator string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.checks[b.Key(locator)]
}

// FailWith makes op ("fetch", "exists", "upload", "delete") fail with err
// for every call until cleared with a nil err.
func (b *Backend) FailWith(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// Fetch returns visible object bytes
func (b *Backend) Fetch(ctx context.Context, locator string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.failures["fetch"]; err != nil {
		return nil, rendition.Transient(b.name, "fetch", locator, err)
	}
	key := b.Key(locator)
	obj, ok := b.objects[key]
	if !ok || b.hidden[key] > 0 {
		return nil, rendition.NotFound(b.name, "fetch", locator)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

// Exists reports visibility, counting down hidden checks
func (b *Backend) Exists(ctx context.Context, locator string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := b.Key(locator)
	b.checks[key]++
	if err := b.failures["exists"]; err != nil {
		return false, rendition.Transient(b.name, "exists", locator, err)
	}
	if _, ok := b.objects[key]; !ok {
		return false, nil
	}
	if b.hidden[key] > 0 {
		b.hidden[key]--
		return false, nil
	}
	return true, nil
}

// Upload stores bytes next to the source object
func (b *Backend) Upload(ctx context.Context, req rendition.UploadRequest) (*rendition.UploadResult, error) {
	if req.Name == "" {
		return nil, errors.New("upload name is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failures["upload"]; err != nil {
		return nil, rendition.Transient(b.name, "upload", req.Name, err)
	}

	key := path.Base(req.Name)
	if req.SourceLocator != "" {
		if dir := path.Dir(b.Key(req.SourceLocator)); dir != "." && dir != "/" {
			key = path.Join(dir, key)
		}
	}
	b.put(key, req.Data, req.Mime)

	return &rendition.UploadResult{
		URL: b.URL(key),
		ProviderMetadata: map[string]any{
			"key":         key,
			"pathname":    key,
			"contentType": req.Mime,
			"size":        len(req.Data),
		},
	}, nil
}

// Delete removes an object
func (b *Backend) Delete(ctx context.Context, locator string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failures["delete"]; err != nil {
		return rendition.Transient(b.name, "delete", locator, err)
	}
	key := b.Key(locator)
	if _, ok := b.objects[key]; !ok {
		return rendition.NotFound(b.name, "delete", locator)
	}
	delete(b.objects, key)
	delete(b.hidden, key)
	return nil
}
