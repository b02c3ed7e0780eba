package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sqlbeats/beatscore/internal/api"
	apperrors "github.com/sqlbeats/beatscore/internal/errors"
	"github.com/sqlbeats/beatscore/internal/mediacache"
	"github.com/sqlbeats/beatscore/internal/metadata"
	"github.com/sqlbeats/beatscore/internal/monitoring"
	"github.com/sqlbeats/beatscore/internal/network"
	"github.com/sqlbeats/beatscore/internal/offline"
	"github.com/sqlbeats/beatscore/internal/security"
	"github.com/sqlbeats/beatscore/internal/store"
	"go.uber.org/zap"
)

const (
	// ResolvedProgress is reported once the audio URL has been resolved.
	ResolvedProgress = 10
	// MaxTransferProgress caps progress until the download has completed.
	MaxTransferProgress = 95
)

// History statuses for downloads stopped by their owner.
const (
	stopPaused    = "paused"
	stopCancelled = "cancelled"
)

// ErrResolve is the task error when no signed audio URL could be obtained.
var ErrResolve = errors.New("Could not resolve audio URL")

// ErrDuplicate is returned by Enqueue when the song is already tracked.
var ErrDuplicate = apperrors.NewDuplicateError("download already in progress")

// Resolver maps storage keys to fetchable URLs.
type Resolver interface {
	Resolve(ctx context.Context, storageKey string, creds security.TokenSource, class mediacache.ContentClass, priority mediacache.Priority) mediacache.Resolution
}

// Options wires the manager's collaborators. Index, History and Tagger
// are optional.
type Options struct {
	Library     *offline.Library
	Index       *store.OfflineIndex
	History     *store.History
	Tagger      *metadata.Tagger
	Client      *http.Client
	Concurrency int
	// DefaultExtension is used when a song's keys carry no known audio
	// extension. Empty means mp3.
	DefaultExtension string
	Logger           *zap.Logger
	Clock            func() time.Time
}

type taskState struct {
	task   Task
	cancel context.CancelFunc
	// stopReason is set under mu by PauseDownload or CancelDownload.
	stopReason string
	// dest is only touched by the goroutine running the task.
	dest string
	// done is closed once the goroutine running the task has returned.
	done chan struct{}
}

// Manager owns the per-song download state machine.
type Manager struct {
	resolver Resolver
	library  *offline.Library
	index    *store.OfflineIndex
	history  *store.History
	tagger   *metadata.Tagger
	client   *http.Client
	ext      string
	notifier *Notifier
	pool     *WorkerPool
	logger   *zap.Logger
	now      func() time.Time

	// deliverMu is held across a mutation and its broadcast so listeners
	// observe changes in the order they were made. Always taken before mu.
	deliverMu sync.Mutex
	mu        sync.Mutex
	tasks     map[string]*taskState
	queued    map[string]bool
}

// NewManager creates a download manager.
func NewManager(resolver Resolver, opts Options) *Manager {
	logger := monitoring.Named(opts.Logger, "download")
	m := &Manager{
		resolver: resolver,
		library:  opts.Library,
		index:    opts.Index,
		history:  opts.History,
		tagger:   opts.Tagger,
		client:   opts.Client,
		ext:      strings.TrimPrefix(strings.ToLower(opts.DefaultExtension), "."),
		notifier: NewNotifier(logger),
		logger:   logger,
		now:      opts.Clock,
		tasks:    make(map[string]*taskState),
		queued:   make(map[string]bool),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.client == nil {
		m.client = network.GetDownloadClient(0)
	}
	if m.ext == "" {
		m.ext = offline.KnownExtensions[0]
	}
	m.pool = NewWorkerPool(opts.Concurrency, m.handleJob, logger.Named("pool"))
	return m
}

// Notifier returns the manager's notifier.
func (m *Manager) Notifier() *Notifier {
	return m.notifier
}

// AddListener registers fn for task map changes. Listeners run
// synchronously and must not call back into the manager's mutating methods.
func (m *Manager) AddListener(fn Listener) func() {
	return m.notifier.AddListener(fn)
}

// DownloadSong downloads song into the offline library and reports whether
// it completed. It returns false at once if the song already has a task.
func (m *Manager) DownloadSong(ctx context.Context, song api.Song, creds security.TokenSource) bool {
	if song.ID == "" {
		return false
	}
	ts, taskCtx := m.newTask(ctx, song)
	defer close(ts.done)
	defer ts.cancel()

	if !m.register(ts, nil) {
		return false
	}
	return m.run(taskCtx, ts, song, creds)
}

func (m *Manager) newTask(ctx context.Context, song api.Song) (*taskState, context.Context) {
	start := m.now()
	taskCtx, cancel := context.WithCancel(ctx)
	return &taskState{
		task: Task{
			SongID:    song.ID,
			Status:    StatusDownloading,
			FileName:  FileNameFor(song, extensionOr(song, m.ext)),
			StartedAt: start,
			UpdatedAt: start,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}, taskCtx
}

// run drives a registered task through resolution, transfer and completion.
func (m *Manager) run(taskCtx context.Context, ts *taskState, song api.Song, creds security.TokenSource) bool {
	ext := extensionOr(song, m.ext)
	start := ts.task.StartedAt
	monitoring.RecordDownloadStart()
	log := m.logger.With(zap.String("song_id", song.ID))

	res := m.resolver.Resolve(taskCtx, song.AudioKey(), creds, mediacache.ClassAudio, mediacache.PriorityHigh)
	if !res.OK() {
		return m.finishWithError(ts, song, ErrResolve, start)
	}
	if !m.mutate(ts, func(t *Task) { t.Progress = ResolvedProgress }) {
		return m.stopped(ts, song, start)
	}

	dest, err := m.library.PathFor(song.ID, ext)
	if err != nil {
		return m.finishWithError(ts, song, apperrors.NewValidationError(err.Error()), start)
	}
	ts.dest = dest

	transferStart := m.now()
	result, err := network.Transfer(taskCtx, network.TransferConfig{
		URL:        res.URL,
		OutputPath: dest,
		Client:     m.client,
		// A paused or failed transfer leaves its partial file for the next attempt.
		Resume: true,
		OnProgress: func(loaded, total int64) {
			m.mutate(ts, func(t *Task) { applyProgress(t, loaded, total, m.now().Sub(transferStart)) })
		},
	})
	if err != nil {
		return m.finishWithError(ts, song, err, start)
	}

	if m.tagger != nil {
		m.tag(taskCtx, dest, song, creds, log)
	}

	completed := m.mutate(ts, func(t *Task) {
		t.Status = StatusCompleted
		t.Progress = 100
		t.BytesDownloaded = result.BytesWritten
		if t.TotalBytes == 0 {
			t.TotalBytes = result.BytesWritten
		}
	})
	if !completed {
		return m.stopped(ts, song, start)
	}

	m.addToIndex(song, ts.task.FileName, dest, log)
	elapsed := m.now().Sub(start)
	monitoring.RecordDownloadComplete(elapsed, result.BytesWritten)
	m.recordHistory(song, string(StatusCompleted), "", result.BytesWritten, elapsed)
	log.Info("download completed",
		zap.String("path", dest),
		zap.Int64("bytes", result.BytesWritten),
		zap.Duration("duration", elapsed))
	return true
}

// applyProgress maps transferred bytes onto the 10..95 band. Progress only
// moves forward.
func applyProgress(t *Task, loaded, total int64, elapsed time.Duration) {
	t.BytesDownloaded = loaded
	t.TotalBytes = total
	if elapsed > 0 {
		t.Speed = float64(loaded) / elapsed.Seconds()
	}
	if total <= 0 {
		return
	}
	p := ResolvedProgress + int(float64(loaded)/float64(total)*float64(100-ResolvedProgress))
	if p > MaxTransferProgress {
		p = MaxTransferProgress
	}
	if p > t.Progress {
		t.Progress = p
	}
}

// register installs ts as the song's task. An existing task blocks it unless
// replace accepts that task, in which case it is swapped out in the same step.
func (m *Manager) register(ts *taskState, replace func(existing *taskState) bool) bool {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if existing, ok := m.tasks[ts.task.SongID]; ok && (replace == nil || !replace(existing)) {
		m.mu.Unlock()
		return false
	}
	m.tasks[ts.task.SongID] = ts
	snapshot := copyTasks(m.tasks)
	m.mu.Unlock()

	m.notifier.Broadcast(snapshot)
	return true
}

// mutate applies fn to ts if it is still the live downloading task for its
// song, then notifies. It reports whether the change was applied.
func (m *Manager) mutate(ts *taskState, fn func(t *Task)) bool {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.tasks[ts.task.SongID] != ts || ts.task.Status != StatusDownloading {
		m.mu.Unlock()
		return false
	}
	fn(&ts.task)
	ts.task.UpdatedAt = m.now()
	snapshot := copyTasks(m.tasks)
	m.mu.Unlock()

	m.notifier.Broadcast(snapshot)
	return true
}

// finishWithError moves ts into the error state. When the task was
// cancelled or paused meanwhile, nothing is reported.
func (m *Manager) finishWithError(ts *taskState, song api.Song, err error, start time.Time) bool {
	msg := errorMessage(err)
	failed := m.mutate(ts, func(t *Task) {
		t.Status = StatusError
		t.Error = msg
	})
	if !failed {
		return m.stopped(ts, song, start)
	}
	ts.cancel()

	errType := string(apperrors.GetErrorType(err))
	if errors.Is(err, ErrResolve) {
		errType = string(apperrors.ErrTypeResolution)
	}
	monitoring.RecordDownloadFailed(errType)
	m.recordHistory(song, string(StatusError), msg, 0, m.now().Sub(start))
	m.logger.Warn("download failed",
		zap.String("song_id", song.ID),
		zap.String("error_type", errType),
		zap.Error(err))
	return false
}

// stopped accounts for a task that was paused or cancelled by its owner.
// A cancelled task's partial file is removed; a paused one keeps it.
func (m *Manager) stopped(ts *taskState, song api.Song, start time.Time) bool {
	m.mu.Lock()
	reason := ts.stopReason
	m.mu.Unlock()
	if reason == "" {
		reason = stopCancelled
	}
	if reason == stopCancelled && ts.dest != "" {
		if err := os.Remove(network.PartialPath(ts.dest)); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove partial file", zap.String("song_id", song.ID), zap.Error(err))
		}
	}

	monitoring.RecordDownloadStopped(reason)
	m.recordHistory(song, reason, "", 0, m.now().Sub(start))
	m.logger.Debug("download stopped", zap.String("song_id", song.ID), zap.String("reason", reason))
	return false
}

func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}

// tag embeds title, artist, album and cover art. Failures are logged only.
func (m *Manager) tag(ctx context.Context, path string, song api.Song, creds security.TokenSource, log *zap.Logger) {
	if !metadata.Supported(path) {
		return
	}
	md := &metadata.TrackMetadata{Title: song.Title, Artist: song.Artist, Album: song.Album}
	if song.CoverURL != "" {
		cover := m.resolver.Resolve(ctx, song.CoverURL, creds, mediacache.ClassImage, mediacache.PriorityNormal)
		if cover.URL != "" {
			data, mime, err := m.tagger.FetchArtwork(ctx, m.client, cover.URL)
			if err != nil {
				log.Debug("cover art unavailable", zap.Error(err))
			} else {
				md.ArtworkData, md.ArtworkMIME = data, mime
			}
		}
	}
	if err := m.tagger.Apply(path, md); err != nil {
		log.Warn("failed to tag downloaded file", zap.String("path", path), zap.Error(err))
	}
}

func (m *Manager) addToIndex(song api.Song, fileName, path string, log *zap.Logger) {
	if m.index == nil {
		return
	}
	_, err := m.index.Add(store.OfflineSongRecord{
		SongID:       song.ID,
		Title:        song.Title,
		Artist:       song.Artist,
		FileName:     fileName,
		DownloadedAt: m.now(),
		LocalPath:    path,
	})
	if err != nil {
		log.Error("failed to record offline song", zap.Error(err))
	}
}

func (m *Manager) recordHistory(song api.Song, status, msg string, bytes int64, elapsed time.Duration) {
	if m.history == nil {
		return
	}
	err := m.history.Record(store.HistoryEntry{
		SongID:     song.ID,
		Title:      song.Title,
		Artist:     song.Artist,
		Status:     status,
		Error:      msg,
		Bytes:      bytes,
		DurationMs: elapsed.Milliseconds(),
		FinishedAt: m.now(),
	})
	if err != nil {
		m.logger.Warn("failed to record download history", zap.String("song_id", song.ID), zap.Error(err))
	}
}

// CancelDownload stops and forgets the song's task in any state. Queued
// jobs that have not started are dropped too.
func (m *Manager) CancelDownload(songID string) bool {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.queued[songID] {
		delete(m.queued, songID)
		m.mu.Unlock()
		return true
	}
	ts, ok := m.tasks[songID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	ts.stopReason = stopCancelled
	ts.cancel()
	delete(m.tasks, songID)
	snapshot := copyTasks(m.tasks)
	m.mu.Unlock()

	m.notifier.Broadcast(snapshot)
	return true
}

// PauseDownload stops the transfer of a downloading song and keeps its
// task as paused.
func (m *Manager) PauseDownload(songID string) bool {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	ts, ok := m.tasks[songID]
	if !ok || ts.task.Status != StatusDownloading {
		m.mu.Unlock()
		return false
	}
	ts.task.Status = StatusPaused
	ts.task.Speed = 0
	ts.stopReason = stopPaused
	ts.task.UpdatedAt = m.now()
	ts.cancel()
	snapshot := copyTasks(m.tasks)
	m.mu.Unlock()

	m.notifier.Broadcast(snapshot)
	return true
}

// ResumeDownload replaces a paused task with a fresh one and downloads the
// song again. Progress restarts at 0; bytes already on disk are reused.
func (m *Manager) ResumeDownload(ctx context.Context, songID string, song api.Song, creds security.TokenSource) bool {
	if song.ID == "" {
		song.ID = songID
	}
	if song.ID != songID {
		return false
	}
	ts, taskCtx := m.newTask(ctx, song)
	defer close(ts.done)
	defer ts.cancel()

	var prev *taskState
	paused := func(existing *taskState) bool {
		if existing.task.Status != StatusPaused {
			return false
		}
		prev = existing
		return true
	}
	if !m.register(ts, paused) {
		return false
	}

	// The paused transfer may still be flushing into the partial file.
	select {
	case <-prev.done:
	case <-taskCtx.Done():
	}
	return m.run(taskCtx, ts, song, creds)
}

// ClearCompleted forgets completed tasks and returns how many were removed.
func (m *Manager) ClearCompleted() int {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	removed := 0
	for id, ts := range m.tasks {
		if ts.task.Status == StatusCompleted {
			delete(m.tasks, id)
			removed++
		}
	}
	if removed == 0 {
		m.mu.Unlock()
		return 0
	}
	snapshot := copyTasks(m.tasks)
	m.mu.Unlock()

	m.notifier.Broadcast(snapshot)
	return removed
}

// GetActiveDownloads returns downloading tasks, oldest first.
func (m *Manager) GetActiveDownloads() []Task {
	return m.filter(func(t Task) bool { return t.Status == StatusDownloading })
}

// GetCompletedDownloads returns completed tasks, oldest first.
func (m *Manager) GetCompletedDownloads() []Task {
	return m.filter(func(t Task) bool { return t.Status == StatusCompleted })
}

// GetDownloadStatus returns the task for songID.
func (m *Manager) GetDownloadStatus(songID string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.tasks[songID]
	if !ok {
		return Task{}, false
	}
	return ts.task, true
}

// GetAllDownloads returns a copy of the task map.
func (m *Manager) GetAllDownloads() map[string]Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTasks(m.tasks)
}

// ActiveCount returns the number of downloading tasks.
func (m *Manager) ActiveCount() int {
	return len(m.GetActiveDownloads())
}

func (m *Manager) filter(keep func(Task) bool) []Task {
	m.mu.Lock()
	out := make([]Task, 0, len(m.tasks))
	for _, ts := range m.tasks {
		if keep(ts.task) {
			out = append(out, ts.task)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SongID < out[j].SongID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Enqueue schedules an asynchronous download on the worker pool.
func (m *Manager) Enqueue(song api.Song, creds security.TokenSource) error {
	if !security.IsValidSongID(song.ID) {
		return apperrors.NewValidationError(fmt.Sprintf("invalid song id %q", song.ID))
	}

	m.mu.Lock()
	if _, exists := m.tasks[song.ID]; exists || m.queued[song.ID] {
		m.mu.Unlock()
		return ErrDuplicate
	}
	m.queued[song.ID] = true
	m.mu.Unlock()

	if err := m.pool.Submit(&Job{ID: song.ID, Song: song, Creds: creds}); err != nil {
		m.mu.Lock()
		delete(m.queued, song.ID)
		m.mu.Unlock()
		return fmt.Errorf("failed to queue download: %w", err)
	}
	m.logger.Debug("download queued", zap.String("song_id", song.ID))
	return nil
}

// IsQueued reports whether songID is waiting for a worker.
func (m *Manager) IsQueued(songID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queued[songID]
}

func (m *Manager) handleJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	if !m.queued[job.ID] {
		m.mu.Unlock()
		return nil
	}
	delete(m.queued, job.ID)
	m.mu.Unlock()

	if m.DownloadSong(ctx, job.Song, job.Creds) {
		return nil
	}
	if t, ok := m.GetDownloadStatus(job.ID); ok && t.Status == StatusError {
		return fmt.Errorf("download %s failed: %s", job.ID, t.Error)
	}
	return nil
}

// DeleteOffline removes the downloaded file and its offline record.
func (m *Manager) DeleteOffline(songID string) error {
	if !security.IsValidSongID(songID) {
		return apperrors.NewValidationError(fmt.Sprintf("invalid song id %q", songID))
	}
	if _, err := m.library.Delete(songID); err != nil {
		return apperrors.NewFileSystemError("failed to delete offline file", err)
	}
	if m.index != nil {
		if _, err := m.index.Remove(songID); err != nil {
			return fmt.Errorf("failed to remove offline record: %w", err)
		}
	}
	m.logger.Info("offline song deleted", zap.String("song_id", songID))
	return nil
}

// IsDownloaded returns the local path of songID if it has been downloaded.
func (m *Manager) IsDownloaded(songID string) (string, bool) {
	return m.library.Exists(songID)
}

// OfflineDir is the directory downloads are written to.
func (m *Manager) OfflineDir() string {
	return m.library.Root()
}

// Start runs the worker pool used by Enqueue.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.library.EnsureDir(); err != nil {
		return apperrors.NewFileSystemError("failed to create offline directory", err)
	}
	if err := m.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	go m.processResults(m.pool.Results())
	m.logger.Info("download manager started", zap.Int("workers", m.pool.GetMaxWorkers()))
	return nil
}

// Stop cancels queued and running pool jobs. Tasks started directly with
// DownloadSong are not affected.
func (m *Manager) Stop() {
	if !m.pool.IsRunning() {
		return
	}
	m.mu.Lock()
	m.queued = make(map[string]bool)
	m.mu.Unlock()

	m.pool.Stop()
	m.logger.Info("download manager stopped")
}

func (m *Manager) processResults(results <-chan *Result) {
	for result := range results {
		if !result.Success && result.Error != nil {
			m.logger.Debug("queued download failed", zap.String("song_id", result.JobID), zap.Error(result.Error))
		}
	}
}
