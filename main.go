package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"siteguard/config"
	"siteguard/inference"
	"siteguard/pipeline"
	"siteguard/serve"
	"siteguard/util"
	"siteguard/video"
	"siteguard/video/sink"
	"siteguard/video/source"
)

const (
	// Frame rate of recorded video files.
	recordFPS = 15
	// Recordings are split into files of this length so retention can
	// reclaim space while streams run.
	recordSegment = 10 * time.Minute
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg := config.Bind(flag.CommandLine)
	flag.Parse()

	if err := cfg.Resolve(); err != nil {
		log.Fatalf("Bad configuration: %v", err)
	}
	if err := util.SetupLogging(util.LogOptions{Level: cfg.LogLevel, File: cfg.LogFile, Caller: cfg.LogCaller}); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	log.Infof("Using %v post-processing model %v", cfg.Runtime, cfg.PostModel)

	yolo := inference.DefaultYOLOv8Options
	if cfg.Labels != "" {
		labels, err := inference.LoadLabels(cfg.Labels)
		if err != nil {
			log.Fatalf("Failed to load labels: %v", err)
		}
		yolo.Labels = labels
	}

	acc, err := inference.NewNetAccelerator(inference.NetOptions{
		Model:   cfg.PostModel,
		Runtime: cfg.Runtime,
		DFP:     cfg.DFP,
	})
	if err != nil {
		log.Fatalf("Failed to start inference: %v", err)
	}
	defer acc.Close()

	var srcs []*source.VideoCapture
	for _, p := range cfg.VideoPaths {
		spec, err := source.ParseSpec(p)
		if err != nil {
			log.Fatalf("Bad video path: %v", err)
		}
		src, err := source.Open(spec, source.DefaultOptions)
		if err != nil {
			log.Fatalf("Failed to open video source: %v", err)
		}
		srcs = append(srcs, src)
	}

	mjpegServer := sink.NewMJPEGServer(len(srcs))

	var ffmpegp string
	var recordings *video.Recordings
	if cfg.RecordDir != "" {
		if ffmpegp, err = util.LocateFFmpeg(); err != nil {
			log.Errorf("FFmpeg is required for recording. Either ensure the ffmpeg binary is in $PATH, or set the FFMPEG environment variable.")
			log.Fatalf("Unable to locate ffmpeg binary: %v", err)
		}
		log.Infof("Located ffmpeg binary, %v", ffmpegp)

		if recordings, err = video.NewRecordings(cfg.RecordDir, int64(cfg.RecordMaxMB)<<20); err != nil {
			log.Fatalf("Failed to create recordings directory: %v", err)
		}
	}

	var streams []pipeline.StreamConfig
	for i, src := range srcs {
		sinks := []sink.Sink{mjpegServer.Stream(i)}
		if recordings != nil {
			opts := sink.FFmpegOptions{
				Binary: ffmpegp,
				Size:   src.Size(),
				FPS:    recordFPS,
			}
			rec := sink.NewSegmented(recordings, i, recordSegment, func(path string) (sink.Sink, error) {
				f, err := sink.NewFFmpegSink(path, opts)
				if err != nil {
					return nil, err
				}
				return f, nil
			})
			sinks = append(sinks, sink.NewFPSNormalize(rec, recordFPS))
		}
		streams = append(streams, pipeline.StreamConfig{
			Source: src,
			Model:  inference.NewYOLOv8(src.Size(), yolo),
			Sinks:  sinks,
		})
	}

	p, err := pipeline.New(acc, streams, pipeline.Options{ReleaseExhausted: cfg.ReleaseExhausted})
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.TuningFile != "" {
		err := config.WatchTuning(ctx, cfg.TuningFile, func(t *config.Tuning) {
			mjpegServer.SetJPEGQuality(t.JPEGQuality)
			mjpegServer.SetMaxClientFPS(t.MaxClientFPS)
			p.SetMinConfidence(t.MinConfidence)
		})
		if err != nil {
			log.Fatalf("Failed to load tuning: %v", err)
		}
	}

	if recordings != nil {
		go pruneRecordings(ctx, recordings)
	}

	statusws := serve.NewStatusUpdater(p, time.Second)
	defer statusws.Close()

	mux := http.NewServeMux()
	mux.Handle("/video_feed", mjpegServer)
	mux.Handle("/video_feed/", mjpegServer)
	mux.Handle("/snapshot/", mjpegServer.SnapshotHandler("/snapshot"))
	mux.Handle("/status", &serve.StatusServer{Pipeline: p})
	mux.Handle("/statusws", statusws)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	mux.Handle("/", &serve.IndexServer{Title: "siteguard", Streams: len(srcs)})

	accessLog := log.StandardLogger().Writer()
	defer accessLog.Close()
	handler := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.LoggingHandler(accessLog,
			handlers.CORS(handlers.AllowedOrigins([]string{"*"}))(mux)))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}
	go func() {
		log.Infof("Hosting web frontend on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Web frontend failed: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Infof("Caught signal %v", sig)
		p.Stop()
	}()

	runErr := p.Run()

	mjpegServer.Shutdown()
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warnf("Web frontend shutdown: %v", err)
	}
	if runErr != nil {
		log.Fatalf("Streaming failed: %v", runErr)
	}
}

func pruneRecordings(ctx context.Context, r *video.Recordings) {
	for {
		if _, err := r.Prune(); err != nil {
			log.Errorf("Failed to prune recordings: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
		}
	}
}
