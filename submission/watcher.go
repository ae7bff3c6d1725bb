package submission

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/mq"
)

// Watcher turns filesystem writes under the object store root into
// object-written events on the submission queue. It stands in for the object
// store's event bus: one event per completed .car write, keyed by
// bucket/key.
type Watcher struct {
	root   string
	region string
	queue  *mq.Queue

	fsw *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWatcher(root, region string, queue *mq.Queue) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, xerrors.Errorf("creating fs watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		root:   root,
		region: region,
		queue:  queue,
		fsw:    fsw,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := w.addRecursive(root); err != nil {
		_ = fsw.Close()
		cancel()
		return nil, err
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fsw.Add(p); err != nil {
				return xerrors.Errorf("watching %s: %w", p, err)
			}
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Errorw("object watcher error", "err", err)
		}
	}
}

func (w *Watcher) handleFsEvent(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				log.Errorw("failed to watch new directory", "dir", ev.Name, "err", err)
			}
			return
		}
	}

	// A rename into place or a create of a complete file both count as the
	// object becoming visible.
	if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if !strings.HasSuffix(ev.Name, ".car") {
		return
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		log.Errorw("object outside watch root", "path", ev.Name, "err", err)
		return
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	if len(parts) != 2 {
		log.Warnw("ignoring object without bucket prefix", "path", rel)
		return
	}

	oe := ObjectEvent{
		Region: w.region,
		Bucket: parts[0],
		Key:    parts[1],
	}
	if err := w.queue.Publish(w.ctx, &oe); err != nil {
		log.Errorw("failed to publish object-written event", "bucket", oe.Bucket, "key", oe.Key, "err", err)
		return
	}
	log.Debugw("object-written event published", "bucket", oe.Bucket, "key", oe.Key)
}

func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
