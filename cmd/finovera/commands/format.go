package commands

import (
	"fmt"
	"strings"

	"github.com/jbouniol/finovera/internal/portfolio"
	"github.com/jbouniol/finovera/internal/simulation"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

// PrintHeader prints a titled block with key/value lines
func PrintHeader(title string, lines ...[2]string) {
	fmt.Println()
	PrintDoubleSeparator()
	fmt.Printf("  %s\n", title)
	PrintSeparator()
	for _, kv := range lines {
		fmt.Printf("  %-10s: %s\n", kv[0], kv[1])
	}
	PrintSeparator()
}

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Printf("⚠️  %s\n", message)
}

// PrintResult prints the summary of a simulation run
func PrintResult(res *simulation.Result, profile string, breaches []portfolio.Breach) {
	s := res.Summary

	PrintHeader("Simulation "+res.RunID,
		[2]string{"Profile", profile},
		[2]string{"Policy", res.PolicyKey},
		[2]string{"Assets", strings.Join(res.Assets, ", ")},
		[2]string{"Floor", fmt.Sprintf("%.0f%%", res.CapFloor*100)},
	)

	fmt.Println("  Initial weights:")
	for i, t := range res.Assets {
		fmt.Printf("    %-8s %6.2f%%\n", t, res.InitialWeights[i]*100)
	}
	if len(res.Allocations) > 0 {
		last := res.Allocations[len(res.Allocations)-1]
		fmt.Println("  Final allocation:")
		for i, t := range res.Assets {
			fmt.Printf("    %-8s %6.2f%%\n", t, last[i]*100)
		}
	}
	PrintSeparator()

	fmt.Printf("  Days          : %d (%s)\n", s.Days, s.TerminationReason)
	fmt.Printf("  Final value   : %.2f (start %.2f)\n", s.FinalValue, s.InitialValue)
	fmt.Printf("  Total return  : %+.2f%%\n", s.TotalReturn*100)
	fmt.Printf("  Annualized    : %+.2f%%\n", s.AnnualizedReturn*100)
	fmt.Printf("  Volatility    : %.2f%%\n", s.Volatility*100)
	fmt.Printf("  Sharpe        : %.2f\n", s.SharpeRatio)
	fmt.Printf("  Sortino       : %.2f\n", s.SortinoRatio)
	fmt.Printf("  Max drawdown  : %.2f%%\n", s.MaxDrawdown*100)
	fmt.Printf("  VaR / CVaR 95 : %.2f%% / %.2f%%\n", s.VaR95*100, s.CVaR95*100)
	fmt.Printf("  VaR (normal)  : %.2f%% / %.2f%%\n", s.ParametricVaR95*100, s.ParametricCVaR95*100)
	PrintDoubleSeparator()

	if s.FloorBreached {
		PrintWarning("Capital floor breached, episode ended early")
	}
	if len(breaches) > 0 {
		PrintWarning(fmt.Sprintf("%d day/asset allocations exceed the %s profile limit", len(breaches), profile))
	}
}
