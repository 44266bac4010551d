package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `스케줄러를 시작하거나 작업을 즉시 실행합니다.

등록되는 작업:
- policy_warmup: WARMUP_SCHEDULE (WARMUP_ASSET_COUNTS 자산 수별 정책 사전 적응)
- dataset_refresh: DATASET_REFRESH_SCHEDULE (데이터셋 재적재)

Subcommands:
  start   - 스케줄러 시작
  list    - 등록된 작업 목록
  run     - 특정 작업 즉시 실행 (완료까지 대기)

Example:
  go run ./cmd/finovera scheduler start
  go run ./cmd/finovera scheduler run policy_warmup`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		RunE:  runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "등록된 작업 목록",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "특정 작업 즉시 실행",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Finovera Scheduler ===")

	d, err := buildDeps(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	sched, err := newScheduler(d)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	fmt.Println("\nRegistered jobs:")
	for _, jobName := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", jobName)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")

	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	d, err := buildDeps(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	sched, err := newScheduler(d)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	fmt.Println("Registered jobs:")
	for name, stat := range sched.GetJobStats() {
		fmt.Printf("  - %-16s %s\n", name, stat.Schedule)
	}
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]
	fmt.Printf("Running job: %s\n", jobName)

	d, err := buildDeps(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	sched, err := newScheduler(d)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	res, err := sched.RunJob(jobName)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("job %s failed after %d attempts: %s", jobName, res.Attempts, res.Error)
	}

	fmt.Printf("\n✅ Job %s completed in %s\n", jobName, res.Duration.Round(time.Millisecond))
	return nil
}
