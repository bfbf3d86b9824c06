package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/backend"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/camera"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/config"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/database"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/kafka"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/logging"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/metrics"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/runner"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/s3"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/scan"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/services/detection"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/session"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Ошибка загрузки конфига: %v", err)
	}

	logCloser := logging.Setup(cfg.Logging)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init(nil)
	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	lights, err := backend.New(cfg.Backend)
	if err != nil {
		log.Fatalf("Failed to open light backend: %v", err)
	}
	defer lights.Close()

	stations := lo.Map(cfg.Stations, func(st config.Station, _ int) session.Station {
		camCfg := camera.Config{
			Name:         st.Name,
			Host:         st.Host,
			Username:     st.Username,
			Password:     st.Password,
			SnapshotPath: st.SnapshotPath,
			Exposure:     st.Exposure,
			Timeout:      st.Timeout,
		}
		return session.Station{
			Name:      st.Name,
			Threshold: st.Threshold,
			Connect: func(ctx context.Context) (scan.Camera, error) {
				cam, err := camera.Open(ctx, camCfg)
				if err != nil {
					return nil, err
				}
				return cam, nil
			},
		}
	})

	deps := runner.Deps{
		Backend:  lights,
		Locator:  detection.NewClient(cfg.Detection.Endpoint, cfg.Detection.Timeout),
		Stations: stations,
	}

	if cfg.Postgres.DSN != "" {
		db, err := database.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("Ошибка подключения к Postgres: %v", err)
		}
		defer db.Close()
		if err := db.Init(ctx); err != nil {
			log.Fatalf("Failed to init database: %v", err)
		}
		deps.DB = db
	}

	if cfg.Minio.Endpoint != "" {
		s3Client, err := s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			log.Fatalf("Ошибка подключения к MinIO: %v", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			log.Fatalf("Failed to prepare bucket: %v", err)
		}
		deps.S3 = s3Client
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ObservationTopic, cfg.Kafka.ReportTopic)
		if err != nil {
			log.Fatalf("Failed to create Kafka producer: %v", err)
		}
		defer producer.Close()
		deps.Producer = producer

		if cfg.Kafka.RequestTopic != "" {
			consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.RequestTopic)
			if err != nil {
				log.Fatalf("Failed to create Kafka consumer: %v", err)
			}
			defer consumer.Close()
			consumer.StartListening(ctx)
			deps.Requests = consumer
		}
	}

	r := runner.New(cfg.Scan, deps)
	if deps.Requests != nil {
		r.ListenAndRun(ctx)
		log.Println("Завершение работы...")
		return
	}

	report, err := r.RunOnce(ctx, models.ScanRequest{Action: models.CommandStart, Project: cfg.Scan.Project})
	if err != nil {
		log.Printf("Scan failed: %v", err)
		if report == nil || errors.Is(err, scan.ErrBackend) {
			os.Exit(1)
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log.Printf("Metrics: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics: server stopped: %v", err)
	}
}
