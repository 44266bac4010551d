package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbouniol/finovera/internal/portfolio"
	"github.com/jbouniol/finovera/internal/simulation"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "포트폴리오 시뮬레이션 실행",
	Long: `포트폴리오를 과거 데이터 전체 구간에 걸쳐 적응 정책으로 시뮬레이션합니다.

해당 자산 수의 적응 정책이 없으면 먼저 미세조정합니다 (최대 2000 step).

Example:
  go run ./cmd/finovera simulate --portfolio AAPL=1000,MSFT=2500
  go run ./cmd/finovera simulate --file holdings.txt --profile Conservateur
  go run ./cmd/finovera simulate --portfolio NVDA=1 --cap-floor 80 --json`,
	RunE: runSimulate,
}

var (
	simPortfolio string
	simFile      string
	simProfile   string
	simCapFloor  float64
	simJSON      bool
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simPortfolio, "portfolio", "", "TICKER=amount 목록 (쉼표 구분)")
	simulateCmd.Flags().StringVar(&simFile, "file", "", "\"TICKER amount\" 형식의 보유 종목 파일")
	simulateCmd.Flags().StringVar(&simProfile, "profile", "", "리스크 프로파일 (기본: 설정의 default)")
	simulateCmd.Flags().Float64Var(&simCapFloor, "cap-floor", 0, "자본 하한 % (프로파일 값을 덮어씀)")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "결과를 JSON으로 출력")
	simulateCmd.MarkFlagsOneRequired("portfolio", "file")
	simulateCmd.MarkFlagsMutuallyExclusive("portfolio", "file")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	holdings, err := readHoldings()
	if err != nil {
		return err
	}

	d, err := buildDeps(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	profile, ok := d.profiles.Lookup(simProfile)
	if !ok {
		return fmt.Errorf("unknown risk profile %q (available: %s)", simProfile, strings.Join(d.profiles.Names(), ", "))
	}

	capFloor := profile.CapFloor()
	if simCapFloor != 0 {
		capFloor = simCapFloor / 100
	}

	res, err := d.driver.Run(cmd.Context(), simulation.Request{
		Portfolio: holdings,
		CapFloor:  capFloor,
	})
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}

	constraints := profile.Constraints()
	breaches := constraints.Check(res.Assets, res.Allocations)

	if simJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	PrintResult(res, profile.Name, breaches)
	return nil
}

func readHoldings() (portfolio.Holdings, error) {
	if simFile != "" {
		f, err := os.Open(simFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return portfolio.ParseLines(f)
	}

	holdings := make(portfolio.Holdings)
	for _, part := range strings.Split(simPortfolio, ",") {
		ticker, amount, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("invalid holding %q, expected TICKER=amount", part)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount in %q: %w", part, err)
		}
		holdings[strings.ToUpper(strings.TrimSpace(ticker))] = v
	}
	return holdings, nil
}
