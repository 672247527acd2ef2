package media

import (
	"container/list"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultCacheMaxBytes is the largest file the player is asked to buffer
// whole. Larger files are played directly from disk.
const DefaultCacheMaxBytes = 256 << 20

const defaultCacheEntries = 32

// Resource is a probed, readable media file.
type Resource struct {
	Locator string
	Path    string
	Kind    Kind
	Size    int64
	ModTime time.Time
	// Direct marks files above the cache limit; the player streams them from
	// disk instead of buffering them whole.
	Direct bool
}

type cacheKey struct {
	path    string
	size    int64
	modTime time.Time
}

type cacheEntry struct {
	key cacheKey
	res *Resource
}

// Loader probes media files and keeps an LRU of probed resources.
type Loader struct {
	maxBytes   int64
	maxEntries int

	mu    sync.Mutex
	lru   *list.List
	index map[cacheKey]*list.Element
}

// NewLoader returns a loader. Non-positive arguments select defaults.
func NewLoader(maxBytes int64, maxEntries int) *Loader {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheMaxBytes
	}
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	return &Loader{
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		lru:        list.New(),
		index:      make(map[cacheKey]*list.Element),
	}
}

// Load probes the descriptor's file. Files that cannot be opened yield
// ErrUnreadable; files that are not image or video content yield
// ErrUnsupported.
func (l *Loader) Load(d Descriptor) (*Resource, error) {
	path := LocalPath(d.Locator)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupported, path)
	}

	key := cacheKey{path: path, size: info.Size(), modTime: info.ModTime()}
	if res, ok := l.cached(key); ok && res.Kind == d.Kind {
		out := *res
		out.Locator = d.Locator
		return &out, nil
	}

	if err := sniff(path, d.Kind); err != nil {
		return nil, err
	}

	res := &Resource{
		Locator: d.Locator,
		Path:    path,
		Kind:    d.Kind,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Direct:  info.Size() > l.maxBytes,
	}
	if !res.Direct {
		l.store(key, res)
	}
	return res, nil
}

// Len returns the number of cached resources.
func (l *Loader) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

func (l *Loader) cached(key cacheKey) (*Resource, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.index[key]
	if !ok {
		return nil, false
	}
	l.lru.MoveToFront(el)
	return el.Value.(*cacheEntry).res, true
}

func (l *Loader) store(key cacheKey, res *Resource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.index[key]; ok {
		el.Value.(*cacheEntry).res = res
		l.lru.MoveToFront(el)
		return
	}
	l.index[key] = l.lru.PushFront(&cacheEntry{key: key, res: res})
	for l.lru.Len() > l.maxEntries {
		oldest := l.lru.Back()
		l.lru.Remove(oldest)
		delete(l.index, oldest.Value.(*cacheEntry).key)
	}
}

// sniff reads the file header and rejects content that is clearly not media.
func sniff(path string, kind Kind) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is empty", ErrUnsupported, path)
	}

	contentType := http.DetectContentType(buf[:n])
	switch {
	case strings.HasPrefix(contentType, "text/"):
		return fmt.Errorf("%w: %s looks like %s", ErrUnsupported, path, contentType)
	case kind == KindImage && strings.HasPrefix(contentType, "video/"):
		return fmt.Errorf("%w: %s is a video, not an image", ErrUnsupported, path)
	}
	return nil
}
