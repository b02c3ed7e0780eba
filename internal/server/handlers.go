package server

import (
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sqlbeats/beatscore/internal/api"
	"github.com/sqlbeats/beatscore/internal/download"
	"github.com/sqlbeats/beatscore/internal/mediacache"
	"github.com/sqlbeats/beatscore/internal/offline"
	"github.com/sqlbeats/beatscore/internal/security"
	"github.com/sqlbeats/beatscore/internal/store"
	"go.uber.org/zap"
)

// PreloadRequest is the body of POST /api/v1/preload.
type PreloadRequest struct {
	Songs      []api.Song `json:"songs"`
	StartIndex int        `json:"startIndex"`
}

func (s *Server) resolve(c *gin.Context) {
	key := c.Query("key")
	if key != "" && !security.IsValidStorageKey(key) {
		abort(c, http.StatusBadRequest, NewBadRequestError("invalid storage key"))
		return
	}

	class := mediacache.ClassImage
	if audio, _ := strconv.ParseBool(c.Query("audio")); audio {
		class = mediacache.ClassAudio
	} else if c.Query("class") != "" {
		class = mediacache.ParseClass(c.Query("class"))
	}
	priority := mediacache.ParsePriority(c.Query("priority"))

	res := s.deps.Cache.Resolve(c.Request.Context(), key, s.credentials(c), class, priority)
	c.JSON(http.StatusOK, res)
}

func (s *Server) preload(c *gin.Context) {
	var req PreloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, NewBadRequestError("invalid preload request"))
		return
	}

	var last float64
	result := s.deps.Cache.Preload(c.Request.Context(), req.Songs, s.credentials(c), func(percent float64) {
		last = percent
	}, req.StartIndex)
	c.JSON(http.StatusOK, gin.H{
		"result":   result,
		"progress": last,
	})
}

func (s *Server) lyrics(c *gin.Context) {
	text, err := s.deps.Cache.FetchLyrics(c.Request.Context(), c.Query("key"), s.credentials(c))
	if err != nil {
		s.logger.Debug("lyrics unavailable",
			zap.String("request_id", GetRequestID(c)),
			zap.Error(err))
	}
	c.String(http.StatusOK, text)
}

func (s *Server) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Cache.Stats())
}

func (s *Server) invalidate(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		abort(c, http.StatusBadRequest, NewBadRequestError("key is required"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": s.deps.Cache.Invalidate(key)})
}

func (s *Server) listDownloads(c *gin.Context) {
	all := s.deps.Downloads.GetAllDownloads()
	tasks := make([]download.Task, 0, len(all))
	for _, t := range all {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].StartedAt.Before(tasks[j].StartedAt)
	})
	c.JSON(http.StatusOK, gin.H{
		"total":     len(tasks),
		"downloads": tasks,
	})
}

func (s *Server) enqueueDownload(c *gin.Context) {
	var song api.Song
	if err := c.ShouldBindJSON(&song); err != nil {
		abort(c, http.StatusBadRequest, NewBadRequestError("invalid song"))
		return
	}
	if song.AudioKey() == "" {
		abort(c, http.StatusBadRequest, NewBadRequestError("song has no storage path"))
		return
	}

	if err := s.deps.Downloads.Enqueue(song, s.credentials(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"songId": song.ID, "queued": true})
}

func (s *Server) getDownload(c *gin.Context) {
	task, ok := s.deps.Downloads.GetDownloadStatus(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, NewNotFoundError("download"))
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) cancelDownload(c *gin.Context) {
	if !s.deps.Downloads.CancelDownload(c.Param("id")) {
		abort(c, http.StatusNotFound, NewNotFoundError("download"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) pauseDownload(c *gin.Context) {
	if !s.deps.Downloads.PauseDownload(c.Param("id")) {
		abort(c, http.StatusConflict, NewConflictError("download is not in progress"))
		return
	}
	task, _ := s.deps.Downloads.GetDownloadStatus(c.Param("id"))
	c.JSON(http.StatusOK, task)
}

// resumeDownload restarts a paused download in the background. The body
// carries the song descriptor since only the task, not the song, is kept.
func (s *Server) resumeDownload(c *gin.Context) {
	id := c.Param("id")
	var song api.Song
	if err := c.ShouldBindJSON(&song); err != nil || song.AudioKey() == "" {
		abort(c, http.StatusBadRequest, NewBadRequestError("resume requires the song with its storage path"))
		return
	}
	if song.ID == "" {
		song.ID = id
	}
	if song.ID != id {
		abort(c, http.StatusBadRequest, NewBadRequestError("song id does not match"))
		return
	}
	if task, ok := s.deps.Downloads.GetDownloadStatus(id); !ok || task.Status != download.StatusPaused {
		abort(c, http.StatusConflict, NewConflictError("download is not paused"))
		return
	}

	go s.deps.Downloads.ResumeDownload(s.baseCtx, id, song, s.credentials(c))
	c.JSON(http.StatusAccepted, gin.H{"songId": id, "resumed": true})
}

func (s *Server) clearCompleted(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.deps.Downloads.ClearCompleted()})
}

func (s *Server) downloadHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusOK, gin.H{"history": []store.HistoryEntry{}})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		abort(c, http.StatusBadRequest, NewBadRequestError("invalid limit"))
		return
	}
	entries, err := s.deps.History.Recent(limit)
	if err != nil {
		abort(c, http.StatusInternalServerError, NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// downloadEvents streams task snapshots as server-sent events until the
// client disconnects.
func (s *Server) downloadEvents(c *gin.Context) {
	notifier := s.deps.Downloads.Notifier()
	sub := notifier.Subscribe(16)
	defer notifier.Unsubscribe(sub)

	c.SSEvent("downloads", s.deps.Downloads.GetAllDownloads())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case tasks, ok := <-sub.SendChan:
			if !ok {
				return false
			}
			c.SSEvent("downloads", tasks)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (s *Server) listOffline(c *gin.Context) {
	records, err := s.deps.Offline.List()
	if err != nil {
		abort(c, http.StatusInternalServerError, NewInternalError(err))
		return
	}
	if records == nil {
		records = []store.OfflineSongRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"total": len(records),
		"songs": records,
	})
}

// getOffline returns the index record with the tags embedded in the local
// file. Tags are omitted when the file cannot be parsed.
func (s *Server) getOffline(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.deps.Offline.Get(id)
	if err != nil {
		abort(c, http.StatusInternalServerError, NewInternalError(err))
		return
	}
	path, exists := s.deps.Downloads.IsDownloaded(id)
	if rec == nil && !exists {
		abort(c, http.StatusNotFound, NewNotFoundError("offline song"))
		return
	}

	resp := gin.H{"record": rec, "onDisk": exists}
	if exists {
		tags, err := offline.ReadTags(path)
		if err != nil {
			s.logger.Debug("no readable tags", zap.String("song_id", id), zap.Error(err))
		} else {
			resp["tags"] = tags
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) exportOffline(c *gin.Context) {
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="offline-songs.json"`)
	if err := s.deps.Offline.Export(c.Writer); err != nil {
		s.logger.Error("failed to export offline index", zap.Error(err))
	}
}

func (s *Server) importOffline(c *gin.Context) {
	n, err := s.deps.Offline.Import(c.Request.Body)
	if err != nil {
		abort(c, http.StatusBadRequest, NewBadRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

func (s *Server) deleteOffline(c *gin.Context) {
	if err := s.deps.Downloads.DeleteOffline(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getPlayerState(c *gin.Context) {
	state, err := s.deps.Player.Load()
	if err != nil {
		abort(c, http.StatusInternalServerError, NewInternalError(err))
		return
	}
	if state == nil {
		abort(c, http.StatusNotFound, NewNotFoundError("player state"))
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) putPlayerState(c *gin.Context) {
	var state store.PlayerState
	if err := c.ShouldBindJSON(&state); err != nil {
		abort(c, http.StatusBadRequest, NewBadRequestError("invalid player state"))
		return
	}
	if err := s.deps.Player.Save(state); err != nil {
		abort(c, http.StatusInternalServerError, NewInternalError(err))
		return
	}
	c.Status(http.StatusNoContent)
}
