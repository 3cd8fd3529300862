package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/murphys7017/mk2/internal/agent"
	"github.com/murphys7017/mk2/internal/channels"
	"github.com/murphys7017/mk2/internal/config"
	"github.com/murphys7017/mk2/internal/core"
	"github.com/murphys7017/mk2/internal/gate"
	"github.com/murphys7017/mk2/internal/memory"
	"github.com/murphys7017/mk2/internal/provider"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the dispatch core and read messages from stdin",
	Run:   runMain,
}

func runMain(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if err := config.EnsureHome(cfg); err != nil {
		fmt.Printf("Home dir error: %v\n", err)
		os.Exit(1)
	}

	gateProvider := gate.NewConfigProvider(cfg.Paths.GateConfig)

	var mem *memory.Service
	if cfg.Memory.Enabled {
		mem, err = memory.NewService(cfg.Memory.DBPath)
		if err != nil {
			fmt.Printf("Memory init error: %v\n", err)
			os.Exit(1)
		}
	}

	var handler agent.Agent
	if cfg.Provider.Enabled {
		llm, err := provider.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.LowModel)
		if err != nil {
			fmt.Printf("Provider error: %v\n", err)
			os.Exit(1)
		}
		dialogue := agent.NewDialogueAgent(llm)
		dialogue.LowModel = cfg.Provider.LowModel
		dialogue.HighModel = cfg.Provider.HighModel
		handler = dialogue
	} else {
		handler = agent.NewEchoAgent()
	}

	opts := core.DefaultOptions()
	opts.BusCapacity = cfg.Core.BusCapacity
	opts.InboxCapacity = cfg.Core.InboxCapacity
	opts.SystemSessionKey = cfg.Core.SystemSessionKey
	opts.EnableSessionGC = cfg.Core.EnableSessionGC
	opts.IdleTTL = cfg.Core.IdleTTL()
	opts.SweepInterval = cfg.Core.SweepInterval()
	opts.MinSessionsToGC = cfg.Core.MinSessionsToGC
	opts.EnableFanout = cfg.Core.EnableFanout

	engine := core.New(opts, gateProvider, handler, mem)

	engine.Egress.RegisterDefault(channels.NewConsoleOutput())
	if cfg.Channels.Slack.Enabled {
		slackOut := channels.NewSlackOutput(cfg.Channels.Slack)
		for sessionKey := range cfg.Channels.Slack.SessionChannels {
			engine.Egress.RegisterSession(sessionKey, slackOut)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tick := channels.NewTimerTick(engine.Bus, cfg.Core.TickInterval())
	textIn := channels.NewTextInput(engine.Bus, engine.AdapterCooldownUntil)
	kafkaIn := channels.NewKafkaIngress(cfg.Channels.Kafka, engine.Bus, engine.AdapterCooldownUntil)
	inputs := []channels.Channel{tick, textIn, kafkaIn}
	for _, ch := range inputs {
		if err := ch.Start(ctx); err != nil {
			fmt.Printf("Channel %s start error: %v\n", ch.Name(), err)
		}
	}
	defer func() {
		for _, ch := range inputs {
			ch.Stop()
		}
	}()

	// Stdin loop: each line becomes a user MESSAGE.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			textIn.Submit("", "operator", line)
		}
	}()

	color.Green("mk2 core running (gate config: %s). Type a message, Ctrl+C to exit.", cfg.Paths.GateConfig)
	engine.Run(ctx)
}
