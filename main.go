package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"cv-capture/pkg/api"
	"cv-capture/pkg/calib"
	"cv-capture/pkg/camera"
	"cv-capture/pkg/capture"
	"cv-capture/pkg/clock"
	"cv-capture/pkg/param"
	"cv-capture/pkg/publish"
	"cv-capture/pkg/storage"
	"cv-capture/pkg/utils"
	"cv-capture/pkg/video"
	"cv-capture/pkg/webdav"
)

const envPrefix = "CV_CAMERA"

var (
	cfgFile string
	v       = viper.New()
	logger  *zap.SugaredLogger

	rootCmd = &cobra.Command{
		Use:   "cv-capture",
		Short: "Capture frames from a camera and publish them with their calibration",
		Long: `cv-capture opens a V4L2 device (or replays images from disk), keeps the
camera calibration consistent with the captured resolution, optionally removes
lens distortion and publishes every frame together with its calibration.

Published frames can be watched over HTTP, saved as snapshots and recorded to
AVI files.`,
		Example: `  # Capture from /dev/video0 with a calibration file
  cv-capture --device 0 --config capture.yaml

  # Replay a directory of images in a loop
  cv-capture --file ./frames --loop`,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "parameter file (yaml, json or toml)")
	flags.String("device", "0", "device index or path")
	flags.String("file", "", "replay an image or a directory of images instead of a device")
	flags.Bool("loop", false, "restart file replay at the end")
	flags.Float64("file-fps", 30, "file replay rate, 0 for as fast as possible")
	flags.String("pixel-format", "mjpeg", "device pixel format (mjpeg, yuyv, rgb24)")
	flags.Int("width", 0, "requested frame width, 0 for the driver default")
	flags.Int("height", 0, "requested frame height, 0 for the driver default")
	flags.Int("fps", camera.DefaultFPS, "requested frame rate")
	flags.String("topic", "image_raw", "publish topic")
	flags.Int("buffer-depth", 1, "publish queue depth")
	flags.String("frame-id", "camera", "frame id stamped on frames and calibration")
	flags.String("camera-name", "camera", "camera name, substituted for ${NAME} in camera_info_url")
	flags.Int("port", 9999, "http port")
	flags.Int("webdav-port", 9998, "webdav port")
	flags.String("dir", "./cv-capture", "snapshot and video directory")
	flags.Bool("record", false, "record published frames to an avi file")
	flags.String("ntp-server", "", "correct capture stamps with this ntp server")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	for _, name := range []string{
		"device", "file", "loop", "file-fps", "pixel-format", "width", "height", "fps", "topic",
		"buffer-depth", "frame-id", "camera-name", "port", "webdav-port", "dir", "record",
		"ntp-server", "log-level",
	} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
}

func initConfig() {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}
	utils.SetLevel(v.GetString("log-level"))
	logger = utils.GetLogger()
	defer logger.Sync()

	ctx, stop := utils.WatchSignal(context.Background())
	defer stop()

	bus := publish.NewBus()

	mgr := calib.NewManager(v.GetString("camera-name"), logger.Named("calib"))
	params := param.NewViper(v, "")

	dev, err := newDevice(ctx)
	if err != nil {
		return err
	}

	var opts []capture.Option
	if server := v.GetString("ntp-server"); server != "" {
		c := clock.NewNTP(server, logger.Named("ntp"))
		go c.Run(time.Hour, ctx.Done())
		opts = append(opts, capture.WithClock(c))
	}

	session, err := capture.NewSession(capture.Config{
		Topic:      v.GetString("topic"),
		BufferSize: v.GetInt("buffer-depth"),
		FrameID:    v.GetString("frame-id"),
	}, params, mgr, dev, bus, opts...)
	if err != nil {
		return err
	}
	if file := v.GetString("file"); file != "" {
		err = session.OpenFile(file)
	} else {
		err = session.Open(v.GetString("device"))
	}
	if err != nil {
		return err
	}
	defer session.Close()

	stg, err := storage.New(v.GetString("dir"))
	if err != nil {
		return err
	}
	dav := webdav.New(ctx, v.GetInt("webdav-port"), stg.Root(), logger.Named("webdav"))
	defer dav.Stop()

	topic := session.Config().Topic
	var recorded <-chan struct{}
	if v.GetBool("record") {
		if recorded, err = startRecorder(bus, topic, stg); err != nil {
			return err
		}
	}

	srv, err := api.New(bus, topic, mgr, stg, dav, logger.Named("api"))
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)
	go func() {
		if err := utils.ListenAndServe(ctx, srv.Router(), v.GetInt("port")); err != nil {
			logger.Error(err)
			stop()
		}
	}()

	captureLoop(ctx, session)

	// closing the bus ends every subscription, which lets the recorder
	// finalize its file
	_ = bus.Close()
	if recorded != nil {
		<-recorded
	}
	return nil
}

func newDevice(ctx context.Context) (camera.Device, error) {
	if v.GetString("file") != "" {
		return camera.NewFileSource(v.GetFloat64("file-fps"), v.GetBool("loop")), nil
	}

	var fourcc v4l2.FourCCType
	switch strings.ToLower(v.GetString("pixel-format")) {
	case "mjpeg", "mjpg":
		fourcc = v4l2.PixelFmtMJPEG
	case "yuyv":
		fourcc = v4l2.PixelFmtYUYV
	case "rgb24", "rgb":
		fourcc = v4l2.PixelFmtRGB24
	default:
		return nil, fmt.Errorf("unsupported pixel format %q", v.GetString("pixel-format"))
	}

	return camera.NewV4L2(ctx,
		camera.WithPixFormat(fourcc, v.GetInt("width"), v.GetInt("height")),
		camera.WithFPS(v.GetInt("fps")),
	), nil
}

func startRecorder(bus *publish.Bus, topic string, stg *storage.Storage) (<-chan struct{}, error) {
	pairs, err := bus.Subscribe(topic, "recorder")
	if err != nil {
		return nil, err
	}
	path := stg.NewVideoPath(time.Now())
	fps := v.GetInt("fps")
	if v.GetString("file") != "" {
		fps = int(v.GetFloat64("file-fps"))
	}
	if fps <= 0 {
		fps = camera.DefaultFPS
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := video.Record(path, fps, pairs, logger.Named("video")); err != nil {
			logger.Error(err)
		}
	}()
	logger.Infof("recording to %s", path)

	return done, nil
}

// captureLoop runs until ctx is done or the source reports the end of its
// stream. A failed read only skips the cycle.
func captureLoop(ctx context.Context, session *capture.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if session.CaptureOnce() {
			session.Publish()
			continue
		}
		switch err := session.ReadErr(); {
		case errors.Is(err, camera.ErrEndOfStream):
			logger.Info("end of stream")
			return
		case errors.Is(err, camera.ErrNotOpened):
			logger.Error(err)
			return
		}
	}
}
