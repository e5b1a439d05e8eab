package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/callviewhq/callview/internal/db"
	"github.com/callviewhq/callview/internal/metrics"
)

// audioExts are the recording formats accepted from the uploads
// directory. Anything else is ignored.
var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true,
}

// Watcher picks up recordings dropped into the uploads directory
// out-of-band (SFTP, cron copies) and enqueues them. The directory
// is organized per manager: uploads/<manager_id>/<file>.
type Watcher struct {
	db       *db.DB
	pipeline *Pipeline
	root     string
	debounce time.Duration
	log      logrus.FieldLogger

	watcher *fsnotify.Watcher
	pending map[string]time.Time
	mu      sync.Mutex

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewWatcher creates a watcher over the uploads root. Files are
// enqueued once no write has touched them for the debounce period,
// so half-copied recordings are never picked up.
func NewWatcher(
	database *db.DB, p *Pipeline, root string,
	debounce time.Duration,
) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		db:       database,
		pipeline: p,
		root:     root,
		debounce: debounce,
		log: logrus.StandardLogger().
			WithField("component", "watcher"),
		watcher: fsw,
		pending: make(map[string]time.Time),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	return w, nil
}

// Start watches the root and all existing manager subdirectories,
// scans for files present before startup, then begins processing
// events in a goroutine.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.root,
		func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip inaccessible dirs
			}
			if d.IsDir() {
				if addErr := w.watcher.Add(path); addErr != nil {
					w.log.WithError(addErr).WithField("dir", path).
						Warn("cannot watch directory")
				}
				return nil
			}
			w.ingest(path)
			return nil
		})
	if err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Stop stops the watcher and waits for it to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watcher error")

		case <-ticker.C:
			w.flush()
		}
	}
}

// handleEvent records pending file changes and auto-watches newly
// created manager directories.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		_ = w.watcher.Add(event.Name)
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = w.now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	now := w.now()
	var ready []string
	for path, t := range w.pending {
		if now.Sub(t) >= w.debounce {
			ready = append(ready, path)
		}
	}
	for _, path := range ready {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.ingest(path)
	}
}

// ingest registers one dropped file as a call and enqueues it.
// The manager is taken from the file's parent directory name;
// files in unknown directories or already tracked are skipped.
func (w *Watcher) ingest(path string) {
	if !audioExts[strings.ToLower(filepath.Ext(path))] {
		return
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)
	parts := strings.SplitN(rel, "/", 2)
	if len(parts) != 2 {
		w.log.WithField("file", rel).
			Warn("file not under a manager directory, skipping")
		return
	}
	managerID := parts[0]

	ctx := context.Background()
	log := w.log.WithField("file", rel)

	tracked, err := w.db.HasCallForFile(ctx, rel)
	if err != nil {
		log.WithError(err).Error("checking tracked file")
		return
	}
	if tracked {
		return
	}

	manager, err := w.db.GetManager(ctx, managerID)
	if err != nil {
		log.WithError(err).Error("looking up manager")
		return
	}
	if manager == nil {
		log.WithField("manager_id", managerID).
			Warn("unknown manager directory, skipping")
		return
	}

	callID := uuid.New().String()
	if err := w.db.InsertCall(ctx, db.Call{
		ID:         callID,
		ManagerID:  managerID,
		Filename:   rel,
		Status:     db.StatusUploaded,
		UploadDate: db.UploadStamp(w.now()),
	}); err != nil {
		log.WithError(err).Error("registering dropped file")
		return
	}
	metrics.CallsUploaded.Inc()

	if err := w.pipeline.Enqueue(callID, false); err != nil {
		log.WithError(err).Error("enqueueing dropped file")
		return
	}
	log.WithField("call_id", callID).Info("picked up dropped recording")
}
