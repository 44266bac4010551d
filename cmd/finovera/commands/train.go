package commands

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbouniol/finovera/internal/env"
	"github.com/jbouniol/finovera/internal/policy"
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "참조 정책 학습",
	Long: `데이터셋의 앞쪽 N개 자산으로 참조 PPO 정책을 학습하고 저장합니다.

참조 정책의 입력/행동 폭은 POLICY_TARGET_DIM / POLICY_ACTION_DIM 으로 고정되며,
이후 각 자산 수에 대해 구조적으로 적응됩니다.

Example:
  go run ./cmd/finovera train --steps 20000
  go run ./cmd/finovera train --assets 10 --out models/ppo_portfolio.msgpack`,
	RunE: runTrain,
}

var (
	trainSteps  int
	trainAssets int
	trainOut    string
	trainSeed   int64
)

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().IntVar(&trainSteps, "steps", 10_000, "학습 step 수")
	trainCmd.Flags().IntVar(&trainAssets, "assets", 0, "학습에 사용할 자산 수 (기본: 가능한 최대)")
	trainCmd.Flags().StringVar(&trainOut, "out", "", "저장 경로 (기본: POLICY_PATH)")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "난수 시드 (기본: POLICY_SEED)")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	set, err := d.driver.Dataset(ctx)
	if err != nil {
		return err
	}

	n := trainAssets
	if n <= 0 {
		n = min(set.NumAssets(), d.cfg.Policy.ActionDim)
	}
	if n > set.NumAssets() {
		return fmt.Errorf("--assets %d exceeds the %d assets of the dataset", n, set.NumAssets())
	}
	sub, err := set.Select(set.Assets[:n])
	if err != nil {
		return err
	}

	e, err := env.New(sub, envConfig(d.cfg))
	if err != nil {
		return err
	}

	seed := trainSeed
	if seed == 0 {
		seed = d.cfg.Policy.Seed
	}
	rng := rand.New(rand.NewSource(seed))

	m, err := policy.NewMLP(d.cfg.Policy.TargetDim, d.cfg.Policy.ActionDim, d.cfg.Policy.Hidden, rng)
	if err != nil {
		return err
	}

	out := trainOut
	if out == "" {
		out = referencePath(d.cfg)
	}

	PrintHeader("Reference policy training",
		[2]string{"Assets", fmt.Sprintf("%d (%s)", n, e.Channels())},
		[2]string{"Shape", fmt.Sprintf("%d → %d, hidden %d", m.InputDim(), m.ActionDim(), m.Hidden())},
		[2]string{"Steps", fmt.Sprintf("%d", trainSteps)},
		[2]string{"Output", out},
	)

	start := time.Now()
	stats, err := policy.NewTrainer(trainerConfig(d.cfg), rng, d.log).Train(ctx, m, e, trainSteps)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("train: %w", err)
	}
	if ctx.Err() != nil {
		PrintWarning(fmt.Sprintf("Interrupted after %d steps, saving partial policy", stats.Steps))
	}

	if err := policy.SaveFile(out, m); err != nil {
		return err
	}

	fmt.Printf("\n✅ Trained %d steps (%d updates, %d episodes, mean reward %.5f) in %.1fs\n",
		stats.Steps, stats.Updates, stats.Episodes, stats.MeanReward, time.Since(start).Seconds())
	return nil
}
