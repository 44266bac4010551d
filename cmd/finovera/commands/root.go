package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "finovera",
	Short: "Finovera - RL 포트폴리오 시뮬레이터",
	Long: `Finovera Unified CLI

사용자 포트폴리오를 과거 데이터 위에서 PPO 정책으로 시뮬레이션합니다.
자산 개수마다 참조 정책을 구조적으로 적응시키고 짧게 미세조정합니다.

Usage:
  go run ./cmd/finovera [command]

Examples:
  go run ./cmd/finovera api
  go run ./cmd/finovera simulate --portfolio AAPL=1000,MSFT=2500
  go run ./cmd/finovera train --steps 20000
  go run ./cmd/finovera warmup --assets 3,5,10
  go run ./cmd/finovera scheduler start`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			setEnvDefault("LOG_LEVEL", "debug")
			setEnvDefault("LOG_FORMAT", "console")
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "env file loaded before the process environment (default .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
