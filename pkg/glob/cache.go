package glob

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CachingService memoizes query results per directory and drops a
// directory's entries whenever the filesystem reports a change under it.
// It plays the role a file-watching service plays for a long-lived
// evaluator: repeated globs over an unchanged package cost one walk.
type CachingService struct {
	inner   Service
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	cache   map[string]map[string]Result // dir -> query key -> result
	watched map[string]bool
}

// NewCachingService wraps inner with an fsnotify-invalidated cache.
func NewCachingService(inner Service) (*CachingService, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s := &CachingService{
		inner:   inner,
		watcher: watcher,
		cache:   make(map[string]map[string]Result),
		watched: make(map[string]bool),
	}
	go s.consumeEvents()
	return s, nil
}

// Query implements Service.
func (s *CachingService) Query(dir string, include, exclude []string) (Result, error) {
	key := queryKey(include, exclude)

	s.mu.Lock()
	if byKey, ok := s.cache[dir]; ok {
		if res, ok := byKey[key]; ok {
			s.mu.Unlock()
			return res, nil
		}
	}
	s.mu.Unlock()

	res, err := s.inner.Query(dir, include, exclude)
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.watched[dir] {
		// A directory we cannot watch is served uncached.
		if err := s.watcher.Add(dir); err != nil {
			return res, nil
		}
		s.watched[dir] = true
	}
	if s.cache[dir] == nil {
		s.cache[dir] = make(map[string]Result)
	}
	s.cache[dir][key] = res
	return res, nil
}

// Close stops the watcher. The service must not be used afterwards.
func (s *CachingService) Close() error {
	return s.watcher.Close()
}

func (s *CachingService) consumeEvents() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.invalidate(ev.Name)
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *CachingService) invalidate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for dir := range s.cache {
		if path == dir || strings.HasPrefix(path, dir+"/") {
			delete(s.cache, dir)
		}
	}
}

func queryKey(include, exclude []string) string {
	return strings.Join(include, "\x00") + "\x01" + strings.Join(exclude, "\x00")
}
