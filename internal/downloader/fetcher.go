// Manager implements the download manager's public contract (§4.3): enqueue,
// prioritize, getTask, getProgress, clear. The dispatcher-plus-semaphore
// shape is adapted from the teacher's ContentFetcher (pkg/content/fetcher.go)
// — a bounded-concurrency worker pool fetching by identity, here a
// (kind,id) FileKey instead of a CID, over HTTPS GET/Range instead of the
// swarm's FETCH_CHUNK wire protocol.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/skyline-signage/player-core/internal/playererr"
)

// Manager coordinates concurrent file materialization against a bounded
// worker budget.
type Manager struct {
	rootCtx context.Context
	store   Store
	fetcher Fetcher
	cfg     Config

	sem *semaphore.Weighted

	mu      sync.Mutex
	tasks   map[FileKey]*Task
	pending []*Task // FIFO unless reordered by Prioritize
	cond    *sync.Cond

	wg sync.WaitGroup
}

// NewManager constructs a download manager and starts its dispatch loop.
// The dispatch loop exits when ctx is cancelled.
func NewManager(ctx context.Context, store Store, fetcher Fetcher, cfg Config) *Manager {
	if cfg.Concurrency <= 0 {
		cfg = DefaultConfig()
	}
	m := &Manager{
		rootCtx: ctx,
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		tasks:   make(map[FileKey]*Task),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.dispatch(ctx)
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	}()
	return m
}

// Enqueue submits a file for download. If a task for the same FileKey is
// already pending, running, or complete, the existing Task is returned
// (§3 invariant: at most one Task per FileKey). Each task gets its own
// context derived from the manager's root context, so Clear can cancel one
// in-flight download without tearing down the whole manager.
func (m *Manager) Enqueue(info FileInfo) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tasks[info.Key]; ok && t.State() != StateFailed {
		return t
	}
	t := newTask(m.rootCtx, info)
	m.tasks[info.Key] = t
	m.pending = append(m.pending, t)
	m.cond.Broadcast()
	return t
}

// Prioritize moves a still-pending task to the front of the dispatch queue.
// Returns whether the task was found at all, queued or already active
// (§4.3 "prioritize"); a task already running or at the head of the queue
// is left alone but still reported found.
func (m *Manager) Prioritize(key FileKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, t := range m.pending {
		if t.Info.Key == key {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			m.pending = append([]*Task{t}, m.pending...)
			return true
		}
	}
	_, active := m.tasks[key]
	return active
}

// GetTask returns the task tracking key, if one exists.
func (m *Manager) GetTask(key FileKey) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[key]
	return t, ok
}

// GetProgress returns a snapshot, keyed by URL, of every currently active
// task's transfer state (§4.3 "getProgress", used by §6's
// downloader.progress() UI overlay interface).
func (m *Manager) GetProgress() map[string]Progress {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	snapshot := make(map[string]Progress, len(tasks))
	for _, t := range tasks {
		if t.State() != StateRunning {
			continue
		}
		snapshot[t.Info.URL] = Progress{
			URL:        t.Info.URL,
			Downloaded: t.Downloaded(),
			Total:      t.Info.Size,
			State:      t.State(),
		}
	}
	return snapshot
}

// Clear drops every queued and active task reference and cancels each
// task's context, aborting its in-flight HTTP requests (§4.3 "clear";
// §7 "Cancelled: explicit clear/shutdown"). Every task's waiters observe a
// Cancelled-kind error from Wait/Err once the underlying fetch notices.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		t.cancel()
	}
	for _, t := range m.pending {
		t.finish(playererr.New(playererr.Cancelled, "downloader.Clear", "download cleared before it started"))
	}
	m.tasks = make(map[FileKey]*Task)
	m.pending = nil
}

// Wait blocks until every task the dispatcher has already started has
// finished; tasks still waiting in the queue are not waited for.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) dispatch(ctx context.Context) {
	for {
		m.mu.Lock()
		for len(m.pending) == 0 && ctx.Err() == nil {
			m.cond.Wait()
		}
		if ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		t := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		if err := m.sem.Acquire(ctx, 1); err != nil {
			t.finish(playererr.Wrap(playererr.Cancelled, "downloader.dispatch", "manager shut down", err))
			continue
		}

		m.wg.Add(1)
		go func(task *Task) {
			defer m.wg.Done()
			defer m.sem.Release(1)
			m.run(task.ctx, task)
		}(t)
	}
}

func (m *Manager) run(ctx context.Context, t *Task) {
	t.setState(StateRunning)

	if t.Info.Size == 0 {
		if size, ct, err := m.fetcher.Head(ctx, t.Info.URL); err == nil {
			t.Info.Size = size
			if t.Info.ContentType == "" {
				t.Info.ContentType = ct
			}
		}
	}

	plan, err := planChunks(t.Info.Size, m.cfg)
	if err != nil {
		t.finish(playererr.Wrap(playererr.Protocol, "downloader.run", "could not plan chunks", err))
		return
	}
	t.Plan = plan

	if t.Info.Size <= m.cfg.ChunkThreshold {
		m.runWhole(ctx, t)
		return
	}
	m.runChunked(ctx, t, plan)
}

func (m *Manager) runWhole(ctx context.Context, t *Task) {
	data, contentType, err := m.fetcher.Get(ctx, t.Info.URL)
	if err != nil {
		t.finish(playererr.Wrap(fetchErrKind(ctx, err), "downloader.runWhole", "GET failed", err))
		return
	}
	if t.Info.ContentType == "" {
		t.Info.ContentType = contentType
	}
	t.downloaded.Store(int64(len(data)))

	commit, verr := checkIntegrity("downloader.runWhole", t.Info, data, m.cfg.Integrity)
	if !commit {
		t.finish(verr)
		return
	}

	if err := m.store.Put(ctx, string(t.Info.Key.Kind), t.Info.Key.ID, data, t.Info.ContentType); err != nil {
		t.finish(playererr.Wrap(playererr.Capacity, "downloader.runWhole", "store write failed", err))
		return
	}
	t.finish(verr) // nil unless IntegrityWarn downgraded a mismatch
}

func (m *Manager) runChunked(ctx context.Context, t *Task, plan []ChunkRange) {
	chunkSem := semaphore.NewWeighted(int64(max(1, m.cfg.ChunksPerFile)))
	var wg sync.WaitGroup
	errCh := make(chan error, len(plan))

	for _, cr := range plan {
		if err := chunkSem.Acquire(ctx, 1); err != nil {
			errCh <- playererr.Wrap(fetchErrKind(ctx, err), "downloader.runChunked", "chunk semaphore acquire cancelled", err)
			break
		}
		wg.Add(1)
		go func(cr ChunkRange) {
			defer wg.Done()
			defer chunkSem.Release(1)

			data, _, err := m.fetcher.GetRange(ctx, t.Info.URL, cr.Start, cr.End)
			if err != nil {
				errCh <- playererr.Wrap(fetchErrKind(ctx, err), "downloader.runChunked", fmt.Sprintf("range %d-%d failed", cr.Start, cr.End), err)
				return
			}
			t.downloaded.Add(int64(len(data)))

			if m.cfg.Progressive {
				if err := m.store.PutChunk(ctx, string(t.Info.Key.Kind), t.Info.Key.ID, cr.Index, len(plan), data, t.Info.ContentType); err != nil {
					errCh <- playererr.Wrap(playererr.Capacity, "downloader.runChunked", "chunk write failed", err)
					return
				}
				return
			}

			t.mu.Lock()
			t.chunkData[cr.Index] = data
			t.mu.Unlock()
		}(cr)
	}
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		t.finish(err)
		return
	}

	if m.cfg.Progressive {
		t.finish(nil)
		return
	}

	whole := assemble(t.chunkData, plan)
	commit, verr := checkIntegrity("downloader.runChunked", t.Info, whole, m.cfg.Integrity)
	if !commit {
		t.finish(verr)
		return
	}
	if err := m.store.Put(ctx, string(t.Info.Key.Kind), t.Info.Key.ID, whole, t.Info.ContentType); err != nil {
		t.finish(playererr.Wrap(playererr.Capacity, "downloader.runChunked", "store write failed", err))
		return
	}
	t.finish(verr)
}

// fetchErrKind classifies a fetcher error as Cancelled when it stems from
// the task's own context being cancelled (via Clear or shutdown) rather
// than a genuine network failure (§7 "Cancelled: explicit clear/shutdown").
func fetchErrKind(ctx context.Context, err error) playererr.Kind {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return playererr.Cancelled
	}
	return playererr.Transient
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
