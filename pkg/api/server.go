// Package api exposes the published pairs of a capture session over HTTP.
package api

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"cv-capture/pkg/calib"
	"cv-capture/pkg/frame"
	"cv-capture/pkg/publish"
	"cv-capture/pkg/storage"
	"cv-capture/pkg/utils"
	"cv-capture/pkg/utils/ps"
	"cv-capture/pkg/webdav"
)

const (
	webDavStart    = "start"
	webDavShutdown = "shutdown"

	latestSubscriber = "api-latest"
	jpegQuality      = 80
)

type Server struct {
	bus     *publish.Bus
	topic   string
	latest  *publish.Latest
	calib   *calib.Manager
	storage *storage.Storage
	webdav  *webdav.Webdav
	logger  *zap.SugaredLogger

	nextID atomic.Uint64
}

// New subscribes to topic on bus and keeps the latest pair for the
// single-shot endpoints.
func New(bus *publish.Bus, topic string, mgr *calib.Manager, stg *storage.Storage, dav *webdav.Webdav, logger *zap.SugaredLogger) (*Server, error) {
	pairs, err := bus.Subscribe(topic, latestSubscriber)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s := &Server{
		bus:     bus,
		topic:   topic,
		latest:  &publish.Latest{},
		calib:   mgr,
		storage: stg,
		webdav:  dav,
		logger:  logger,
	}
	go s.latest.Watch(pairs)

	return s, nil
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	if gin.Mode() != gin.TestMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	apiRouter := r.Group("/api")

	cameraRouter := apiRouter.Group("/camera")
	cameraRouter.GET("/stream", s.stream)
	cameraRouter.GET("/info", s.info)
	cameraRouter.GET("/latest", s.latestImage)
	cameraRouter.GET("/calibration", s.getCalibration)
	cameraRouter.PUT("/calibration", s.updateCalibration)
	cameraRouter.POST("/snapshot", s.snapshot)
	cameraRouter.GET("/snapshots", s.listSnapshots)
	cameraRouter.GET("/videos", s.listVideos)

	deviceRouter := apiRouter.Group("/device")
	deviceRouter.GET("/status", s.status)
	deviceRouter.PUT("/webdav", s.ctlWebdav)

	return r
}

func (s *Server) stream(c *gin.Context) {
	id := fmt.Sprintf("http-%d", s.nextID.Add(1))
	pairs, err := s.bus.Subscribe(s.topic, id)
	if err != nil {
		internalErr(c, err)
		return
	}
	defer func() {
		_ = s.bus.Unsubscribe(s.topic, id)
	}()

	mimeWriter := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mimeWriter.Boundary()))
	partHeader := make(textproto.MIMEHeader)
	partHeader.Add("Content-Type", "image/jpeg")

	var buf bytes.Buffer
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case p, ok := <-pairs:
			if !ok {
				return
			}
			buf.Reset()
			if err := frame.EncodeJPEG(p.Frame, &buf, jpegQuality); err != nil {
				s.logger.Errorf("failed to encode frame %s: %s", p.Frame, err)
				continue
			}
			partWriter, err := mimeWriter.CreatePart(partHeader)
			if err != nil {
				s.logger.Errorf("failed to create multi-part writer: %s", err)
				return
			}
			if _, err := partWriter.Write(buf.Bytes()); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func (s *Server) info(c *gin.Context) {
	p, ok := s.latest.Get()
	if !ok {
		noFrame(c)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(p.Info))
}

func (s *Server) latestImage(c *gin.Context) {
	p, ok := s.latest.Get()
	if !ok {
		noFrame(c)
		return
	}
	var buf bytes.Buffer
	if err := frame.EncodeJPEG(p.Frame, &buf, jpegQuality); err != nil {
		internalErr(c, err)
		return
	}

	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

func (s *Server) getCalibration(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(s.calib.CameraInfo().Intrinsics))
}

// updateCalibration replaces the stored calibration. With ?save=true it is
// also written back to the url it was loaded from.
func (s *Server) updateCalibration(c *gin.Context) {
	var in calib.Intrinsics
	if err := c.Bind(&in); err != nil {
		return
	}
	if in.Width < 0 || in.Height < 0 {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("width and height must not be negative"))
		return
	}
	if in.DistortionModel == "" {
		in.DistortionModel = calib.ModelPlumbBob
	}
	s.calib.SetCameraInfo(in)

	if c.Query("save") == "true" {
		if s.calib.URL() == "" {
			c.JSON(http.StatusBadRequest, jsend.SimpleErr("calibration was not loaded from a url"))
			return
		}
		if err := s.calib.SaveCameraInfo(""); err != nil {
			internalErr(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, jsend.Success(s.calib.CameraInfo().Intrinsics))
}

func (s *Server) snapshot(c *gin.Context) {
	p, ok := s.latest.Get()
	if !ok {
		noFrame(c)
		return
	}
	snap, err := s.storage.SaveSnapshot(p.Frame, p.Info)
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(snap))
}

func (s *Server) listSnapshots(c *gin.Context) {
	files, err := s.storage.ListSnapshots()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(files))
}

func (s *Server) listVideos(c *gin.Context) {
	files, err := s.storage.ListVideos()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(files))
}

type deviceStatus struct {
	Host    ps.Status     `json:"host"`
	Publish publish.Stats `json:"publish"`
	Storage string        `json:"storage"`
	Webdav  bool          `json:"webdav"`
}

func (s *Server) status(c *gin.Context) {
	host, err := ps.HostStatus(s.storage.Root())
	if err != nil {
		internalErr(c, err)
		return
	}
	stats, err := s.bus.Stats(s.topic)
	if err != nil {
		internalErr(c, err)
		return
	}
	usage, err := s.storage.Usage()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(deviceStatus{
		Host:    host,
		Publish: stats,
		Storage: humanize.Bytes(usage),
		Webdav:  s.webdav.Running(),
	}))
}

func (s *Server) ctlWebdav(c *gin.Context) {
	op := c.Query("op")
	switch op {
	case webDavStart:
		if !s.webdav.Start() {
			c.JSON(http.StatusOK, jsend.Success("the webdav service is already enabled"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(fmt.Sprintf(":%d", s.webdav.Port())))
	case webDavShutdown:
		if !s.webdav.Stop() {
			c.JSON(http.StatusOK, jsend.SimpleErr("the webdav service has been shut down"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(nil))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

func noFrame(c *gin.Context) {
	c.JSON(http.StatusNotFound, jsend.SimpleErr("no frame published yet"))
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
