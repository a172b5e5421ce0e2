package guidelines

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/swingtrader/internal/logging"
)

// Listener is notified after a new rule set has been promoted. A listener
// error is logged and does not affect the reload or other listeners.
type Listener func(*RuleSet) error

// Store holds the current rule set behind an atomically swapped pointer.
// Readers always see a complete, validated snapshot.
type Store struct {
	path     string
	log      *logrus.Entry
	debounce time.Duration
	now      func() time.Time

	current atomic.Pointer[RuleSet]
	loadMu  sync.Mutex

	mu        sync.Mutex
	listeners []Listener
	lastErr   error
	watching  bool
}

type Option func(*Store)

func WithLogger(l *logrus.Entry) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:     path,
		log:      logging.Component(nil, "guidelines"),
		debounce: 300 * time.Millisecond,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string { return s.path }

// Current returns the promoted rule set. Two calls without an intervening
// promotion return the same pointer.
func (s *Store) Current() (*RuleSet, error) {
	rs := s.current.Load()
	if rs == nil {
		return nil, ErrNotLoaded
	}
	return rs, nil
}

// LastError returns the most recent load failure, including validation
// rejections that were absorbed by falling back to the previous set.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Load reads, parses and validates the document. If validation fails and
// a valid set was loaded before, that set is returned instead of an error.
// Missing files and parse failures are always returned as errors.
func (s *Store) Load() (*RuleSet, error) {
	rs, _, err := s.load()
	return rs, err
}

// Reload runs Load and, when a new set was promoted, notifies listeners
// synchronously in registration order.
func (s *Store) Reload() (*RuleSet, error) {
	rs, promoted, err := s.load()
	if err != nil {
		return nil, err
	}
	if promoted {
		s.notify(rs)
	}
	return rs, nil
}

func (s *Store) load() (*RuleSet, bool, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.WithError(err).Warn("rules file unreadable")
		}
		return nil, false, s.fail(&RuleLoadError{Kind: FileNotFound, Path: s.path, Err: err})
	}

	rs, err := Parse(data)
	if err != nil {
		return nil, false, s.fail(&RuleLoadError{Kind: ParseFailed, Path: s.path, Err: err})
	}

	res := Validate(rs)
	if !res.Valid {
		lerr := s.fail(&RuleLoadError{Kind: ValidationFailed, Path: s.path, Problems: res.Errors})
		if prev := s.current.Load(); prev != nil {
			s.log.WithFields(logrus.Fields{
				"version":    rs.Version,
				"kept":       prev.Version,
				"generation": prev.Generation,
				"problems":   res.Errors,
			}).Warn("rule set rejected; keeping last known good")
			return prev, false, nil
		}
		return nil, false, lerr
	}
	for _, w := range res.Warnings {
		s.log.WithField("version", rs.Version).Warn(w)
	}

	rs.Source = s.path
	rs.LoadedAt = s.now()
	if prev := s.current.Load(); prev != nil {
		rs.Generation = prev.Generation + 1
	} else {
		rs.Generation = 1
	}
	s.current.Store(rs)

	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"version":    rs.Version,
		"generation": rs.Generation,
		"checksum":   rs.Checksum[:12],
	}).Info("rule set promoted")
	return rs, true, nil
}

func (s *Store) fail(err *RuleLoadError) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

// OnChange registers a listener.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Subscribe returns a channel that receives every promoted rule set. When
// the subscriber falls behind, the oldest pending set is dropped so the
// newest is always delivered.
func (s *Store) Subscribe(buffer int) <-chan *RuleSet {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *RuleSet, buffer)
	s.OnChange(func(rs *RuleSet) error {
		for {
			select {
			case ch <- rs:
				return nil
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})
	return ch
}

func (s *Store) notify(rs *RuleSet) {
	s.mu.Lock()
	ls := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for i, l := range ls {
		if err := callListener(l, rs); err != nil {
			s.log.WithError(err).WithField("listener", i).Error("rules change listener failed")
		}
	}
}

func callListener(l Listener, rs *RuleSet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l(rs)
}

// Watch reloads the rule set whenever the file changes, until ctx is done.
// Events are debounced so editors that write in several steps trigger a
// single reload.
func (s *Store) Watch(ctx context.Context) error {
	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return nil
	}
	s.watching = true
	s.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.stopWatching()
		return fmt.Errorf("create rules watcher: %w", err)
	}
	// Watch the directory so atomic rename-over saves are seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		s.stopWatching()
		return fmt.Errorf("watch rules dir: %w", err)
	}

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *Store) stopWatching() {
	s.mu.Lock()
	s.watching = false
	s.mu.Unlock()
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		watcher.Close()
		s.stopWatching()
	}()

	var timerMu sync.Mutex
	var timer *time.Timer
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(s.debounce, func() {
			if ctx.Err() != nil {
				return
			}
			if _, err := s.Reload(); err != nil {
				s.log.WithError(err).Error("rules reload failed")
			}
		})
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.WithError(err).Warn("rules watcher error")
		case <-ctx.Done():
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timerMu.Unlock()
			return
		}
	}
}
