package config_test

import (
	"fmt"

	"github.com/jbouniol/finovera/pkg/config"
)

// Example demonstrates how to use the config package
func Example() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	fmt.Printf("Initial cash: %.0f\n", cfg.Simulation.InitialCash)
	fmt.Printf("Capital floor: %.0f%%\n", cfg.Simulation.CapFloor*100)
	fmt.Printf("Policy dims: %d -> %d\n", cfg.Policy.TargetDim, cfg.Policy.ActionDim)
}
