package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"flowcam/config"
	"flowcam/notify"
	"flowcam/serve"
	"flowcam/telemetry"
	"flowcam/util"
	"flowcam/video"
	"flowcam/video/overlay"
	"flowcam/video/process"
	"flowcam/video/record"
	"flowcam/video/sink"
	"flowcam/video/source"
)

var (
	port       = flag.Int("port", 8080, "Port to host web frontend.")
	configPath = flag.String("config", "", "JSON configuration file. Defaults are used when empty.")
	uriFlag    = flag.String("uri", "", "Camera URI or video file, overriding the configuration.")
	verbose    = flag.Bool("v", false, "Enable debug logging.")
)

func alertOptions(c *config.Config) notify.Options {
	return notify.Options{
		Threshold:  c.AlertThreshold,
		Frames:     c.AlertFrames,
		HoursStart: c.NotificationHoursStart,
		HoursEnd:   c.NotificationHoursEnd,
	}
}

func openSource(c *config.Config) (source.Source, error) {
	if c.URI == "" {
		log.Infof("No URI configured, using the test pattern")
		return source.NewTestPattern(source.TestPatternOptions{
			Width:       c.Pattern.Width,
			Height:      c.Pattern.Height,
			PixelFormat: video.PixFmtY8,
			Speed:       c.Pattern.Speed,
			Scale:       c.Pattern.Scale,
			BufferSlots: c.BufferSlots,
		})
	}
	fps := c.CaptureFPS
	if fps == 0 && strings.HasSuffix(c.URI, ".mp4") {
		// Files are read as fast as possible otherwise.
		fps = c.RecordFPS
	}
	return source.NewVideoCapture(c.URI, source.CaptureOptions{
		PixelFormat: video.PixFmtY8,
		FPS:         fps,
		BufferSlots: c.BufferSlots,
	})
}

func main() {
	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *configPath != "" {
		if err := config.Load(ctx, *configPath); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		config.Set(config.Default())
	}
	// Startup settings are fixed from here on.
	cfg := *config.Get()
	if *uriFlag != "" {
		cfg.URI = *uriFlag
	}

	src, err := openSource(&cfg)
	if err != nil {
		log.Fatalf("Failed to open source: %v", err)
	}
	defer src.Close()

	mopts, err := cfg.MotionOptions()
	if err != nil {
		log.Fatalf("Bad estimator configuration: %v", err)
	}

	// Pipeline: source -> f32 -> lkdewarp -> rgb8 -> overlay -> stabilized drain,
	// with source -> rgb8 -> raw drain alongside.
	f32, err := process.NewToF32(src, cfg.BufferSlots)
	if err != nil {
		log.Fatalf("Failed to create converter: %v", err)
	}
	est, err := process.NewMotionEstimator(f32, mopts)
	if err != nil {
		log.Fatalf("Failed to create motion estimator: %v", err)
	}
	rgb, err := process.NewToRGB8(est, cfg.OutputScale, cfg.BufferSlots)
	if err != nil {
		log.Fatalf("Failed to create converter: %v", err)
	}
	cx, cy, cw, ch := est.Crop()
	ov, err := overlay.New(rgb, est, overlay.Options{
		Label:       "flowcam",
		Crop:        image.Rect(cx, cy, cx+cw, cy+ch),
		BufferSlots: cfg.BufferSlots,
	})
	if err != nil {
		log.Fatalf("Failed to create overlay: %v", err)
	}
	rawRGB, err := process.NewToRGB8(src, 1, cfg.BufferSlots)
	if err != nil {
		log.Fatalf("Failed to create converter: %v", err)
	}

	mjpegServer := sink.NewMJPEGServer()
	msraw := mjpegServer.NewStream("raw")
	defer msraw.Close()
	msstab := mjpegServer.NewStream("stabilized")
	defer msstab.Close()

	mux := http.NewServeMux()
	outSinks := []sink.Sink{msstab}
	var rec *record.Recorder
	var fs *record.Filesystem
	if cfg.ClipsPath != "" {
		fs, err = record.NewFilesystem(cfg.ClipsPath)
		if err != nil {
			log.Fatalf("Failed to create filesystem: %v", err)
		}
		ffmpegp := util.LocateFFmpegOrDie()
		log.Infof("Located ffmpeg binary, %v", ffmpegp)
		vthumbs := record.NewVThumbProducer(ffmpegp)
		defer vthumbs.Close()
		rec = record.NewRecorder(&record.ClipProducer{
			FFmpegOptions: sink.FFmpegOptions{
				Binary: ffmpegp,
				FPS:    cfg.RecordFPS,
				Debug:  *verbose,
			},
			Filesystem:     fs,
			VThumbProducer: vthumbs,
		}, record.RecorderOptions{
			BufferTime:    time.Duration(cfg.BufferTimeSec) * time.Second,
			RecordTime:    time.Duration(cfg.RecordTimeSec) * time.Second,
			MaxRecordTime: time.Duration(cfg.MaxRecordTimeSec) * time.Second,
		})
		outSinks = append(outSinks, rec)

		mux.Handle("/trigger", rec)
		mux.Handle("/clips", &serve.ClipsServer{FS: fs})
		mux.Handle("/video", serve.NewVideoServer(fs))
		mux.Handle("/thumb", serve.NewThumbServer(fs))
		mux.Handle("/vthumb", serve.NewVThumbServer(fs))
		mux.Handle("/delete", &serve.DeleteServer{FS: fs})
	}

	rawDrain, err := sink.NewDrain("raw-drain", rawRGB, 0, msraw)
	if err != nil {
		log.Fatalf("Failed to create drain: %v", err)
	}
	outDrain, err := sink.NewDrain("stabilized-drain", ov, 0, outSinks...)
	if err != nil {
		log.Fatalf("Failed to create drain: %v", err)
	}

	flowStream := serve.NewFlowStream(est)
	listeners := []notify.NotifyListener{flowStream}
	if rec != nil {
		listeners = append(listeners, notify.ListenerFunc(func(*notify.Notification) error {
			rec.Trigger()
			return nil
		}))
	}

	var store telemetry.Store
	switch {
	case cfg.DatabaseDSN != "":
		db, err := telemetry.OpenGorm(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		gs, err := telemetry.NewGormStore(db)
		if err != nil {
			log.Fatalf("Failed to create telemetry store: %v", err)
		}
		store = gs
		wp, err := notify.NewWebPush(db, cfg.WebPushSubscriber)
		if err != nil {
			log.Fatalf("Failed to set up web push: %v", err)
		}
		wp.RegisterHandlers(mux)
		listeners = append(listeners, wp)
	case cfg.TelemetryPath != "":
		ss, err := telemetry.NewSQLiteStore(cfg.TelemetryPath)
		if err != nil {
			log.Fatalf("Failed to create telemetry store: %v", err)
		}
		store = ss
		db, err := ss.Gorm()
		if err != nil {
			log.Fatalf("Failed to open telemetry database: %v", err)
		}
		wp, err := notify.NewWebPush(db, cfg.WebPushSubscriber)
		if err != nil {
			log.Fatalf("Failed to set up web push: %v", err)
		}
		wp.RegisterHandlers(mux)
		listeners = append(listeners, wp)
	}

	var wg sync.WaitGroup
	if store != nil {
		defer store.Close()
		trec := telemetry.NewRecorder(store, telemetry.RecorderOptions{
			Every:     cfg.TelemetryEvery,
			BatchSize: cfg.TelemetryBatch,
		})
		samples, unsubscribe := est.Subscribe()
		defer unsubscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			trec.Run(ctx, samples)
		}()
		mux.Handle("/history", &serve.HistoryServer{Source: trec})
	}

	notifier := notify.NewNotifier(alertOptions(config.Get()), listeners...)
	config.OnChange(func(_, c *config.Config) {
		notifier.SetOptions(alertOptions(c))
	})
	nsamples, nunsubscribe := est.Subscribe()
	defer nunsubscribe()
	go notifier.Run(ctx, nsamples)

	var loops []*video.TriggerLoop
	for _, s := range []video.Stage{src, f32, est, rgb, ov, rawRGB, rawDrain, outDrain} {
		loops = append(loops, video.StartTriggerLoop(ctx, s.Name(), s, video.TriggerLoopOptions{}))
	}

	mux.Handle("/mjpeg", mjpegServer)
	mux.Handle("/flow", &serve.FlowServer{Flow: est})
	mux.Handle("/flowws", flowStream)
	mux.Handle("/stats", &serve.StatsServer{})
	mux.Handle("/variance", &serve.VarianceServer{Source: est})
	mux.Handle("/variance.png", &serve.VarianceHeatmapServer{Source: est})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: handlers.CombinedLoggingHandler(os.Stdout, handlers.CORS(handlers.AllowedOrigins([]string{"*"}))(mux)),
	}
	go func() {
		log.Infof("Hosting web frontend on port %d", *port)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("HTTP server failed: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	status := time.NewTicker(10 * time.Second)
	defer status.Stop()
loop:
	for {
		select {
		case <-status.C:
			s := est.Latest()
			log.WithFields(log.Fields{
				"frame":     s.Frame,
				"output_hx": s.OutputHx,
				"output_hy": s.OutputHy,
				"connected": src.Connected(),
			}).Infof("Motion status")
		case sig := <-sigs:
			log.Infof("Caught signal %v", sig)
			break loop
		}
	}

	shutdown, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	srv.Shutdown(shutdown)

	cancel()
	for _, l := range loops {
		<-l.Done()
	}
	if rec != nil {
		rec.Close()
	}
	wg.Wait()

	if cfg.VariancePath != "" && cfg.VarianceTracking {
		if err := est.SaveVariance(cfg.VariancePath); err != nil {
			log.Errorf("Failed to save variance: %v", err)
		} else {
			log.Infof("Variance written to %v", cfg.VariancePath)
		}
		png := strings.TrimSuffix(cfg.VariancePath, ".bin") + ".png"
		if err := est.SaveVarianceHeatmap(png); err != nil {
			log.Errorf("Failed to save variance heatmap: %v", err)
		}
	}
}
