package tailer

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/networkbuster/compositor/internal/logparse"
)

// ChangeSource reports paths of files that may have new content. The tailer
// reads whatever it is told about and does not care how changes are found.
type ChangeSource interface {
	Add(path string) error
	Remove(path string) error
	Changes() <-chan string
	Close() error
}

const changeBuffer = 256

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// notifySource is the fsnotify-backed change source. Directories are watched
// recursively; a watched file is observed through its parent directory so
// rotation by rename and recreate is still seen.
type notifySource struct {
	watcher *fsnotify.Watcher
	changes chan string
	done    chan struct{}
	wg      sync.WaitGroup

	mu    sync.Mutex
	roots map[string][]string // root -> directories added for it
	dirs  map[string]int      // directory -> reference count
}

func newNotifySource() (*notifySource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tailer: create watcher: %w", err)
	}
	s := &notifySource{
		watcher: w,
		changes: make(chan string, changeBuffer),
		done:    make(chan struct{}),
		roots:   make(map[string][]string),
		dirs:    make(map[string]int),
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

func (s *notifySource) Changes() <-chan string { return s.changes }

func (s *notifySource) Add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roots[path]; ok {
		return nil
	}
	if !info.IsDir() {
		dir := filepath.Dir(path)
		if err := s.watchDirLocked(dir); err != nil {
			return err
		}
		s.roots[path] = []string{dir}
		return nil
	}
	s.roots[path] = nil
	return s.addTreeLocked(path, path)
}

// addTreeLocked watches dir and every directory below it on behalf of root.
func (s *notifySource) addTreeLocked(root, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := s.watchDirLocked(p); err != nil {
			log.Printf("tailer: watch %s: %v", p, err)
			return nil
		}
		s.roots[root] = append(s.roots[root], p)
		return nil
	})
}

func (s *notifySource) watchDirLocked(dir string) error {
	if s.dirs[dir] == 0 {
		if err := s.watcher.Add(dir); err != nil {
			return err
		}
	}
	s.dirs[dir]++
	return nil
}

func (s *notifySource) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dirs, ok := s.roots[path]
	if !ok {
		return nil
	}
	delete(s.roots, path)
	for _, dir := range dirs {
		s.dirs[dir]--
		if s.dirs[dir] > 0 {
			continue
		}
		delete(s.dirs, dir)
		// The directory may already be gone, which removes the watch anyway.
		_ = s.watcher.Remove(dir)
	}
	return nil
}

func (s *notifySource) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

func (s *notifySource) loop() {
	defer s.wg.Done()
	defer close(s.changes)

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("tailer: watcher error: %v", err)
		}
	}
}

func (s *notifySource) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			s.addCreatedDir(ev.Name)
			return
		}
	}
	if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		s.send(ev.Name)
	}
}

// addCreatedDir starts watching a directory created below a watched root and
// reports any log files that appeared in it before the watch was in place.
func (s *notifySource) addCreatedDir(dir string) {
	s.mu.Lock()
	for root := range s.roots {
		if within(root, dir) {
			if err := s.addTreeLocked(root, dir); err != nil {
				log.Printf("tailer: watch new directory %s: %v", dir, err)
			}
		}
	}
	s.mu.Unlock()

	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() && logparse.IsLogFile(p) {
			s.send(p)
		}
		return nil
	})
}

func (s *notifySource) send(path string) {
	select {
	case s.changes <- path:
	case <-s.done:
	}
}

// pollSource reports every watched log file once per interval.
type pollSource struct {
	interval time.Duration
	changes  chan string
	done     chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	roots map[string]struct{}
}

func newPollSource(interval time.Duration) *pollSource {
	s := &pollSource{
		interval: interval,
		changes:  make(chan string, changeBuffer),
		done:     make(chan struct{}),
		roots:    make(map[string]struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *pollSource) Changes() <-chan string { return s.changes }

func (s *pollSource) Add(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	s.mu.Lock()
	s.roots[path] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *pollSource) Remove(path string) error {
	s.mu.Lock()
	delete(s.roots, path)
	s.mu.Unlock()
	return nil
}

func (s *pollSource) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	s.wg.Wait()
	return nil
}

func (s *pollSource) loop() {
	defer s.wg.Done()
	defer close(s.changes)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.pollOnce() {
				return
			}
		case <-s.done:
			return
		}
	}
}

// pollOnce reports false when the source was closed mid-walk.
func (s *pollSource) pollOnce() bool {
	s.mu.Lock()
	roots := make([]string, 0, len(s.roots))
	for r := range s.roots {
		roots = append(roots, r)
	}
	s.mu.Unlock()

	for _, root := range roots {
		for _, p := range listLogFiles(root) {
			select {
			case s.changes <- p:
			case <-s.done:
				return false
			}
		}
	}
	return true
}

// listLogFiles returns root itself when it is a file, or every log file below
// it when it is a directory. Unreadable entries are skipped.
func listLogFiles(root string) []string {
	info, err := os.Stat(root)
	if err != nil {
		return nil
	}
	if !info.IsDir() {
		return []string{root}
	}
	var files []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() && logparse.IsLogFile(p) {
			files = append(files, p)
		}
		return nil
	})
	return files
}
