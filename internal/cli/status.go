package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/murphys7017/mk2/internal/config"
	"github.com/murphys7017/mk2/internal/gate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the resolved configuration and gate policy",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			os.Exit(1)
		}

		color.Cyan("mk2 %s", version)
		fmt.Printf("home:         %s\n", cfg.Paths.Home)
		fmt.Printf("gate config:  %s\n", cfg.Paths.GateConfig)
		fmt.Printf("memory:       enabled=%v path=%s\n", cfg.Memory.Enabled, cfg.Memory.DBPath)
		fmt.Printf("provider:     enabled=%v base=%s\n", cfg.Provider.Enabled, cfg.Provider.APIBase)
		fmt.Printf("kafka:        enabled=%v brokers=%s\n", cfg.Channels.Kafka.Enabled, cfg.Channels.Kafka.Brokers)
		fmt.Printf("slack:        enabled=%v\n", cfg.Channels.Slack.Enabled)

		snapshot := gate.NewConfigProvider(cfg.Paths.GateConfig).Snapshot()
		fmt.Printf("gate:         scenes=%d emergency=%v force_low=%v\n",
			len(snapshot.ScenePolicies),
			snapshot.Overrides.EmergencyMode,
			snapshot.Overrides.ForceLowModel)
	},
}
