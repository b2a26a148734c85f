package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/librescoot/mdb-link/pkg/dispatcher"
	"github.com/librescoot/mdb-link/pkg/link"
	"github.com/librescoot/mdb-link/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the host-side link daemon until interrupted",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := buildLinkConfig()
	if err != nil {
		return err
	}

	tr, err := openTransport(log)
	if err != nil {
		return err
	}
	defer tr.Stop()

	handlers, gpio, ds, err := buildHandlers(uint32(flagBaudrate))
	if err != nil {
		return err
	}

	lk := link.New(tr, cfg, link.RoleInitiator, nil, log)
	lk.SetGPIOReset(gpio.ResetAllToInput)

	disp := dispatcher.New(lk, handlers, flagEnableRLE, log)
	lk.SetDispatcher(disp)

	var telem *telemetry.Publisher
	if flagRedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		telem, err = telemetry.NewPublisher(ctx, flagRedisAddr, flagRedisPassword, flagRedisDB, log)
		cancel()
		if err != nil {
			return err
		}
		defer telem.Close()

		lk.OnStatus = func(ev link.StatusEvent) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := telem.PublishStatus(ctx, ev); err != nil {
				log.WithError(err).Warn("failed to publish status event")
			}
		}
		lk.OnSafeState = func(reason error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := telem.PublishSafeState(ctx, reason); err != nil {
				log.WithError(err).Warn("failed to publish safe-state event")
			}
		}

		sub := telem.SubscribeControl(context.Background())
		defer sub.Close()
		go func() {
			for msg := range sub.Channel() {
				if msg.Payload == telemetry.ControlResetLink {
					log.Info("control channel requested reset_link")
					lk.ResetLink()
				}
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- lk.Run(ctx) }()

	snapshotTicker := time.NewTicker(time.Second)
	defer snapshotTicker.Stop()
	snapshotSaveTicker := time.NewTicker(30 * time.Second)
	defer snapshotSaveTicker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info("received shutdown signal")
			cancel()
			<-runErrCh
			_ = ds.SaveSnapshot()
			return nil
		case err := <-runErrCh:
			return err
		case <-snapshotTicker.C:
			if telem != nil {
				ctx, c := context.WithTimeout(context.Background(), time.Second)
				if err := telem.PublishSnapshot(ctx, lk.TakeSnapshot()); err != nil {
					log.WithError(err).Warn("failed to publish snapshot")
				}
				c()
			}
		case <-snapshotSaveTicker.C:
			if err := ds.SaveSnapshot(); err != nil {
				log.WithError(err).Warn("failed to persist datastore snapshot")
			}
		}
	}
}
