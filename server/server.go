package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/customeros/mailbackend/api"
	"github.com/customeros/mailbackend/api/handlers"
	"github.com/customeros/mailbackend/config"
	"github.com/customeros/mailbackend/internal/cron"
	"github.com/customeros/mailbackend/internal/listeners"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/repository"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/services"
	"github.com/customeros/mailbackend/services/events"
)

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cron         *cron.CronManager
	tracerCloser io.Closer
	cancel       context.CancelFunc
}

func NewServer(cfg *config.Config, db *gorm.DB) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	blobs, err := services.InitBlobStorage(cfg)
	if err != nil {
		return nil, err
	}
	repos := repository.InitRepositories(db, blobs)

	// Initialize services
	ctx, cancel := context.WithCancel(context.Background())
	svcs, err := services.InitServices(ctx, cfg, appLogger, repos)
	if err != nil {
		cancel()
		return nil, err
	}

	cronManager := cron.NewCronManager(cfg.Cron, appLogger, kubernetesClient(cfg), repos.AccountRepository, svcs.AccountSync)

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		services:     svcs,
		repositories: repos,
		cron:         cronManager,
		tracerCloser: closer,
		cancel:       cancel,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

// kubernetesClient is nil outside a cluster, the cron then runs without leader election
func kubernetesClient(cfg *config.Config) kubernetes.Interface {
	if cfg.AppConfig.PodName == "" {
		return nil
	}
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		log.Printf("⚠️ Not running in cluster, leader election disabled: %v", err)
		return nil
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		log.Printf("⚠️ Could not create kubernetes client: %v", err)
		return nil
	}
	return client
}

func (s *Server) Initialize(ctx context.Context) error {
	// Subscribe to push events
	if s.services.EventsService != nil {
		log.Println("Registering event listeners...")
		subscriber := s.services.EventsService.Subscriber
		subscriber.RegisterListener(listeners.NewPushReceivedListener(s.log, s.services.AccountSync))
		if err := subscriber.ListenQueue(events.QueuePush); err != nil {
			return err
		}
	}

	// Setup API routes
	api.RegisterRoutes(s.router, handlers.Dependencies{
		Accounts:      s.repositories.AccountRepository,
		Backends:      s.services.BackendManager,
		StoreURIs:     s.services.BackendManager,
		Syncer:        s.services.AccountSync,
		FolderCreator: s.services.FolderCreator,
	}, s.config.AppConfig.APIKey)

	return nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		// Create a new span for the panic
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		// Mark span as failed
		ext.Error.Set(span, true)

		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		log.Printf("❌ Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Initialize(ctx); err != nil {
		return err
	}

	log.Println("Starting cron manager...")
	if err := s.cron.Start(s.config.AppConfig.PodName, s.config.AppConfig.PodNamespace); err != nil {
		return err
	}
	log.Println("✅ Cron manager started successfully")

	log.Println("Starting push supervisor...")
	s.wrapGoroutine("push_supervisor", func() {
		s.services.Push.Start(ctx)
	})
	log.Println("✅ Push supervisor started successfully")

	go s.wrapGoroutine("http_server", func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ HTTP server error: %v", err)
		}
	})
	log.Println("✅ HTTP server started successfully")
	log.Println("Mailbackend is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ HTTP server shutdown error: %v", err)
	} else {
		log.Println("✅ HTTP server shut down successfully")
	}

	s.cron.Stop()

	// Pushers and cached connections may hang on a dead server
	log.Println("Stopping backends...")
	stopDone := make(chan struct{})
	go s.wrapGoroutine("services_shutdown", func() {
		defer close(stopDone)
		s.cancel()
		s.services.Close()
	})

	select {
	case <-stopDone:
		log.Println("✅ Backends stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Println("⚠️ Backend stop timed out, forcing exit")
	}

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	return nil
}
