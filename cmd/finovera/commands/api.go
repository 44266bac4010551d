package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbouniol/finovera/internal/api"
	"github.com/jbouniol/finovera/internal/api/handlers"
	"github.com/jbouniol/finovera/internal/scheduler"
	"github.com/jbouniol/finovera/internal/scheduler/jobs"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

이 명령어는:
- HTTP API 서버 시작
- 포트폴리오 시뮬레이션 엔드포인트 제공
- (옵션) 정책 사전 적응 스케줄러 동시 실행

Endpoints:
  GET  /health                    - Health check
  GET  /metrics                   - Prometheus metrics
  POST /api/simulations           - 시뮬레이션 실행
  GET  /api/simulations/{id}      - 저장된 시뮬레이션 조회
  GET  /api/simulations/stream    - 웹소켓 단계별 스트리밍
  GET  /api/profiles              - 리스크 프로파일 목록
  GET  /api/policies              - 적응 정책 캐시 상태
  POST /api/recommendations       - 분류기 앙상블 추천 (MODELS_PATH 필요)

Example:
  go run ./cmd/finovera api
  go run ./cmd/finovera api --port 8080 --with-scheduler`,
	RunE: runAPIServer,
}

var (
	apiPort          string
	apiWithScheduler bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본: PORT)")
	apiCmd.Flags().BoolVar(&apiWithScheduler, "with-scheduler", false, "warm-up 스케줄러 동시 실행")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Finovera API Server ===")

	d, err := buildDeps(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	if apiPort != "" {
		d.cfg.Port = apiPort
	}

	d.log.WithFields(map[string]interface{}{
		"port": d.cfg.Port,
		"env":  d.cfg.Env,
	}).Info("Initializing API server")

	// Handlers
	h := api.Handlers{
		Simulation: handlers.NewSimulationHandler(d.driver, d.profiles, d.log),
		Policy:     handlers.NewPolicyHandler(d.loader),
	}
	if d.ensemble != nil {
		h.Recommendation = handlers.NewRecommendationHandler(d.ensemble, d.driver, d.log)
	}

	router := api.NewRouter(h, api.RouterConfig{
		RateLimit: d.cfg.API.RateLimit,
		Burst:     d.cfg.API.Burst,
		Metrics:   d.metrics,
	}, d.log)
	server := api.New(d.cfg, d.log, router, api.WithShutdownHook("policy_adaptations", d.loader.Shutdown))

	var sched *scheduler.Scheduler
	if apiWithScheduler {
		sched, err = newScheduler(d)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	// Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			d.log.WithError(err).Fatal("Failed to start server")
		}
	}()

	d.log.Info("API server started successfully")
	fmt.Printf("\n✅ Server running on http://localhost:%s\n", d.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	d.log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	d.log.Info("Server stopped")
	return nil
}

// newScheduler registers the warm-up and dataset refresh jobs
func newScheduler(d *deps) (*scheduler.Scheduler, error) {
	sched := scheduler.New(d.log)

	if len(d.cfg.Warmup.AssetCounts) > 0 {
		warm := jobs.NewWarmupJob(d.driver, d.loader, d.cfg.Warmup.AssetCounts, d.cfg.Warmup.Schedule, d.log)
		if err := sched.AddJob(warm); err != nil {
			return nil, err
		}
	}

	if d.cfg.Warmup.RefreshSchedule != "" {
		refresh := jobs.NewDatasetRefreshJob(d.driver, d.cfg.Warmup.RefreshSchedule, d.log)
		if err := sched.AddJob(refresh); err != nil {
			return nil, err
		}
	}

	return sched, nil
}
