package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbouniol/finovera/internal/scoring"
)

// recommendCmd represents the recommend command
var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "분류기 앙상블 추천",
	Long: `데이터셋 마지막 날짜의 특징으로 자산별 점수와 추천 행동을 출력합니다.

점수 = random_forest 0.6 + xgboost 0.4 가중 평균 (MODELS_PATH 파일 기준)
  ≥ 0.6 strengthen, ≥ 0.4 hold, 그 외 sell

Example:
  go run ./cmd/finovera recommend --top 10`,
	RunE: runRecommend,
}

var recommendTop int

func init() {
	rootCmd.AddCommand(recommendCmd)
	recommendCmd.Flags().IntVar(&recommendTop, "top", 10, "출력할 자산 수")
}

func runRecommend(cmd *cobra.Command, args []string) error {
	d, err := buildDeps(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	if d.ensemble == nil {
		return fmt.Errorf("MODELS_PATH is not set")
	}

	set, err := d.driver.Dataset(cmd.Context())
	if err != nil {
		return err
	}

	recs, err := d.ensemble.Score(cmd.Context(), scoring.LatestRows(set))
	if err != nil {
		return err
	}

	date := "-"
	if len(set.Dates) > 0 {
		date = set.Dates[len(set.Dates)-1].Format("2006-01-02")
	}
	PrintHeader("Recommendations",
		[2]string{"Date", date},
		[2]string{"Assets", fmt.Sprintf("%d", set.NumAssets())},
	)
	for i, r := range scoring.Top(recs, recommendTop) {
		fmt.Printf("  %2d. %-8s %.3f  %-10s  sentiment %s\n", i+1, r.Ticker, r.Score, r.Action, r.SentimentLabel)
	}
	PrintDoubleSeparator()
	return nil
}
