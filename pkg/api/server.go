// Package api exposes the engine over HTTP/JSON for UI collaborators.
// Every request completes synchronously; long-running modes report their
// progress through GET /api/status.
package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/engine"
	"github.com/gwillem/dexhand/pkg/gesture"
	"github.com/gwillem/dexhand/pkg/motion"
)

// Server serves the engine API.
type Server struct {
	engine *engine.Engine
	dir    string // recordings directory
	log    logrus.FieldLogger
}

// NewServer creates a server for e storing recordings in dir.
func NewServer(e *engine.Engine, dir string, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{engine: e, dir: dir, log: log.WithField("component", "api")}
}

// Handler returns the gin engine with all routes installed.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
	s.SetupRoutes(r)
	return r
}

// SetupRoutes installs the API routes on r.
func (s *Server) SetupRoutes(r gin.IRouter) {
	api := r.Group("/api")

	api.GET("/status", s.getStatus)
	api.GET("/channels", s.getChannels)
	api.PUT("/channels/:id/target", s.setTarget)
	api.PUT("/channels/:id/enabled", s.setEnabled)
	api.PUT("/enabled", s.setAllEnabled)
	api.POST("/ping", s.ping)
	api.POST("/feedback/poll", s.pollFeedback)

	api.POST("/calibration/start", s.startCalibration)
	api.POST("/calibration/stop", s.stopCalibration)

	api.POST("/recording/start", s.startRecording)
	api.POST("/recording/frames", s.appendFrame)
	api.POST("/recording/stop", s.stopRecording)
	api.GET("/recordings", s.listRecordings)
	api.PUT("/recordings/:name", s.putRecording)

	api.POST("/playback/start", s.startPlayback)
	api.POST("/playback/pause", s.pausePlayback)
	api.POST("/playback/resume", s.resumePlayback)
	api.POST("/playback/seek", s.seekPlayback)
	api.POST("/playback/speed", s.setPlaybackSpeed)
	api.POST("/playback/stop", s.stopPlayback)

	api.POST("/mirroring/start", s.startMirroring)
	api.POST("/mirroring/frames", s.pushLandmarks)
	api.POST("/mirroring/stop", s.stopMirroring)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) getChannels(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Channels())
}

func channelParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		badRequest(c, errors.New("channel id must be a number"))
		return 0, false
	}
	return id, true
}

func (s *Server) setTarget(c *gin.Context) {
	id, ok := channelParam(c)
	if !ok {
		return
	}
	var req struct {
		Value *int `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
		badRequest(c, errors.New("body must be {\"value\": <position>}"))
		return
	}
	if err := s.engine.SetTarget(c.Request.Context(), id, *req.Value); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": id, "target": *req.Value})
}

type enableRequest struct {
	Enabled *bool `json:"enabled"`
}

func bindEnable(c *gin.Context) (bool, bool) {
	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		badRequest(c, errors.New("body must be {\"enabled\": true|false}"))
		return false, false
	}
	return *req.Enabled, true
}

func (s *Server) setEnabled(c *gin.Context) {
	id, ok := channelParam(c)
	if !ok {
		return
	}
	on, ok := bindEnable(c)
	if !ok {
		return
	}
	if err := s.engine.SetEnabled(c.Request.Context(), id, on); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": id, "enabled": on})
}

func (s *Server) setAllEnabled(c *gin.Context) {
	on, ok := bindEnable(c)
	if !ok {
		return
	}
	if err := s.engine.SetAllEnabled(c.Request.Context(), on); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": on})
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": s.engine.Ping(c.Request.Context())})
}

func (s *Server) pollFeedback(c *gin.Context) {
	if err := s.engine.PollFeedback(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Channels())
}

func (s *Server) startCalibration(c *gin.Context) {
	var req struct {
		Channels []int `json:"channels"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := s.engine.StartCalibration(req.Channels...); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.engine.Snapshot())
}

func (s *Server) stopCalibration(c *gin.Context) {
	if err := s.engine.StopCalibration(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) startRecording(c *gin.Context) {
	var req struct {
		Mode   string `json:"mode"`
		RateHz int    `json:"rate_hz"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	mode, err := motion.ParseMode(req.Mode)
	if err != nil {
		badRequest(c, err)
		return
	}
	if mode == motion.RealTime && req.RateHz == 0 {
		req.RateHz = motion.DefaultRateHz
	}
	if err := s.engine.StartRecording(mode, req.RateHz); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Snapshot().Recording)
}

func (s *Server) appendFrame(c *gin.Context) {
	var req struct {
		OffsetMS *int64 `json:"offset_ms"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	f, err := s.engine.AppendFrame(req.OffsetMS)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offset_ms": f.OffsetMS, "positions": f.Positions})
}

func (s *Server) stopRecording(c *gin.Context) {
	rec, err := s.engine.StopRecording()
	if err != nil {
		s.fail(c, err)
		return
	}
	name := motion.FileName(rec)
	if err := motion.Save(filepath.Join(s.dir, name), rec); err != nil {
		s.fail(c, err)
		return
	}
	s.log.WithFields(logrus.Fields{"file": name, "frames": len(rec.Frames)}).Info("recording saved")
	c.JSON(http.StatusOK, gin.H{
		"id":          rec.ID,
		"name":        name,
		"mode":        rec.Mode,
		"frames":      len(rec.Frames),
		"duration_ms": rec.DurationMS,
	})
}

func (s *Server) listRecordings(c *gin.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.fail(c, err)
		return
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	c.JSON(http.StatusOK, gin.H{"recordings": names})
}

// recordingPath confines name to the recordings directory.
func (s *Server) recordingPath(name string) (string, error) {
	base := filepath.Base(name)
	if base != name || !strings.HasSuffix(base, ".json") {
		return "", errors.New("recording name must be a .json file name")
	}
	return filepath.Join(s.dir, base), nil
}

func (s *Server) putRecording(c *gin.Context) {
	path, err := s.recordingPath(c.Param("name"))
	if err != nil {
		badRequest(c, err)
		return
	}
	rec, err := motion.Decode(c.Request.Body)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := motion.Save(path, rec); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": rec.ID, "name": filepath.Base(path), "frames": len(rec.Frames)})
}

func (s *Server) startPlayback(c *gin.Context) {
	var req struct {
		Name   string  `json:"name"`
		Speed  float64 `json:"speed"`
		Repeat int     `json:"repeat"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Speed == 0 {
		req.Speed = 1
	}
	path, err := s.recordingPath(req.Name)
	if err != nil {
		badRequest(c, err)
		return
	}
	rec, err := motion.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorBody{Error: "recording not found", Kind: "not_found"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	sess, err := s.engine.Play(c.Request.Context(), rec, req.Speed, req.Repeat)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Status())
}

// playbackControl runs op and answers with the resulting session status.
func (s *Server) playbackControl(c *gin.Context, op func() error) {
	if err := op(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Snapshot().Playback)
}

func (s *Server) pausePlayback(c *gin.Context)  { s.playbackControl(c, s.engine.Pause) }
func (s *Server) resumePlayback(c *gin.Context) { s.playbackControl(c, s.engine.Resume) }
func (s *Server) stopPlayback(c *gin.Context)   { s.playbackControl(c, s.engine.StopPlayback) }

func (s *Server) seekPlayback(c *gin.Context) {
	var req struct {
		MS *int64 `json:"ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MS == nil {
		badRequest(c, errors.New("body must be {\"ms\": <offset>}"))
		return
	}
	s.playbackControl(c, func() error { return s.engine.SeekTo(*req.MS) })
}

func (s *Server) setPlaybackSpeed(c *gin.Context) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.playbackControl(c, func() error { return s.engine.SetPlaybackSpeed(req.Speed) })
}

func (s *Server) startMirroring(c *gin.Context) {
	if err := s.engine.StartMirroring(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": s.engine.Mode()})
}

func (s *Server) pushLandmarks(c *gin.Context) {
	var req struct {
		Landmarks []gesture.Landmark `json:"landmarks"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.engine.PushLandmarks(c.Request.Context(), req.Landmarks)
	if err != nil {
		s.fail(c, err)
		return
	}
	errs := make(map[string]ErrorBody, len(res.Errors))
	for id, err := range res.Errors {
		_, body := classify(err)
		errs[strconv.Itoa(id)] = body
	}
	c.JSON(http.StatusOK, gin.H{
		"targets": res.Targets,
		"skipped": res.Skipped,
		"errors":  errs,
	})
}

func (s *Server) stopMirroring(c *gin.Context) {
	if err := s.engine.StopMirroring(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": s.engine.Mode()})
}
