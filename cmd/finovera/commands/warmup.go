package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbouniol/finovera/internal/scheduler/jobs"
)

// warmupCmd represents the warmup command
var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "자산 수별 정책 사전 적응",
	Long: `지정한 자산 수마다 적응 정책을 미리 만들어 캐시에 저장합니다.

이미 캐시(디스크/Redis)에 있는 자산 수는 건너뜁니다.

Example:
  go run ./cmd/finovera warmup
  go run ./cmd/finovera warmup --assets 2,3,5,10`,
	RunE: runWarmup,
}

var warmupAssets string

func init() {
	rootCmd.AddCommand(warmupCmd)
	warmupCmd.Flags().StringVar(&warmupAssets, "assets", "", "자산 수 목록 (기본: WARMUP_ASSET_COUNTS)")
}

func runWarmup(cmd *cobra.Command, args []string) error {
	d, err := buildDeps(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	counts := d.cfg.Warmup.AssetCounts
	if warmupAssets != "" {
		counts = nil
		for _, part := range strings.Split(warmupAssets, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return fmt.Errorf("invalid asset count %q", part)
			}
			counts = append(counts, n)
		}
	}
	if len(counts) == 0 {
		return fmt.Errorf("no asset counts: set WARMUP_ASSET_COUNTS or --assets")
	}

	start := time.Now()
	job := jobs.NewWarmupJob(d.driver, d.loader, counts, d.cfg.Warmup.Schedule, d.log)
	if err := job.Run(cmd.Context()); err != nil {
		return err
	}

	stats := d.loader.Stats()
	fmt.Printf("\n✅ Warm-up done in %.1fs: %d adapted, %d cached keys %v\n",
		time.Since(start).Seconds(), stats.Adaptations, len(stats.Keys), stats.Keys)
	return nil
}
