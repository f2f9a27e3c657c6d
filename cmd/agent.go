package cmd

import (
	"context"
	"go/types"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellar/go-stellar-sdk/support/config"
	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/agent"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/agent/hardware"
)

type AgentCommand struct{}

func (c *AgentCommand) Command() *cobra.Command {
	var (
		apiURL                 string
		kioskID                string
		kioskIDFile            string
		pollIntervalSeconds    int
		idleDelaySeconds       int
		dispenseTimeoutSeconds int
		hopperDelayMs          int
		hopperCapacity         int
	)

	configOpts := config.ConfigOptions{
		{
			Name:        "api-url",
			Usage:       "The base URL of the coordinator API the agent polls for dispense jobs.",
			OptType:     types.String,
			ConfigKey:   &apiURL,
			FlagDefault: "http://localhost:8000",
			Required:    true,
		},
		{
			Name:      "kiosk-id",
			Usage:     "The kiosk's identity. If empty, it is loaded from (or minted into) the kiosk id file.",
			OptType:   types.String,
			ConfigKey: &kioskID,
			Required:  false,
		},
		{
			Name:        "kiosk-id-file",
			Usage:       "Path of the file holding the kiosk's stable identity.",
			OptType:     types.String,
			ConfigKey:   &kioskIDFile,
			FlagDefault: "kiosk-id",
			Required:    true,
		},
		{
			Name:        "poll-interval-seconds",
			Usage:       "How long to wait after a failed poll before polling again, in seconds.",
			OptType:     types.Int,
			ConfigKey:   &pollIntervalSeconds,
			FlagDefault: 5,
			Required:    true,
		},
		{
			Name:        "idle-delay-seconds",
			Usage:       "How long to wait between polls when no job is pending, in seconds.",
			OptType:     types.Int,
			ConfigKey:   &idleDelaySeconds,
			FlagDefault: 2,
			Required:    true,
		},
		{
			Name:        "dispense-timeout-seconds",
			Usage:       "How long a single dispense actuation may take before it is abandoned, in seconds.",
			OptType:     types.Int,
			ConfigKey:   &dispenseTimeoutSeconds,
			FlagDefault: 30,
			Required:    true,
		},
		{
			Name:        "hopper-delay-ms",
			Usage:       "Simulated hopper: milliseconds spent per dispensed coin.",
			OptType:     types.Int,
			ConfigKey:   &hopperDelayMs,
			FlagDefault: 50,
			Required:    false,
		},
		{
			Name:        "hopper-capacity",
			Usage:       "Simulated hopper: total coins loaded. A negative value means unlimited.",
			OptType:     types.Int,
			ConfigKey:   &hopperCapacity,
			FlagDefault: -1,
			Required:    false,
		},
	}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the kiosk-side dispense agent",
		Long:  "The agent polls the coordinator for dispense jobs, actuates the coin hopper at most once per job, and reports each outcome until the coordinator acknowledges it.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.Parent().PersistentPreRun(cmd.Parent(), args)

			configOpts.Require()
			err := configOpts.SetValues()
			if err != nil {
				log.Fatalf("Error setting values of config options: %s", err.Error())
			}
		},
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()

			if kioskID == "" {
				var err error
				kioskID, err = agent.LoadOrCreateKioskID(kioskIDFile)
				if err != nil {
					log.Ctx(ctx).Fatalf("error loading kiosk id: %s", err.Error())
				}
			}

			hopper := hardware.NewSimulatedHopper()
			hopper.DelayPerCoin = time.Duration(hopperDelayMs) * time.Millisecond
			hopper.Capacity = hopperCapacity

			a, err := agent.New(agent.Options{
				APIBaseURL:      apiURL,
				KioskID:         kioskID,
				Driver:          hopper,
				PollInterval:    time.Duration(pollIntervalSeconds) * time.Second,
				IdleDelay:       time.Duration(idleDelaySeconds) * time.Second,
				DispenseTimeout: time.Duration(dispenseTimeoutSeconds) * time.Second,
			})
			if err != nil {
				log.Ctx(ctx).Fatalf("error creating agent: %s", err.Error())
			}

			if err = a.Run(ctx); err != nil {
				log.Ctx(ctx).Fatalf("agent stopped with error: %s", err.Error())
			}
		},
	}

	err := configOpts.Init(cmd)
	if err != nil {
		log.Fatalf("Error initializing a config option: %s", err.Error())
	}

	return cmd
}
