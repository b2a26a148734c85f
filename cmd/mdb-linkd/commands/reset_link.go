package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/librescoot/mdb-link/pkg/telemetry"
)

var resetLinkCmd = &cobra.Command{
	Use:   "reset-link",
	Short: "Ask a running mdb-linkd serve process to reset its link state",
	Long: `reset-link publishes a control message on the Redis control
channel rather than resetting the link itself. It requires the
running daemon to have been started with --redis-addr set, since
reset_link(config?) is otherwise an in-process Link method with no
externally reachable handle. The daemon answers by calling
Link.ResetLink, which clears queues, the retransmit cache and the
synchronized flag; it does not send a new LINK_SYNC.`,
	RunE: runResetLink,
}

func init() {
	rootCmd.AddCommand(resetLinkCmd)
}

func runResetLink(cmd *cobra.Command, args []string) error {
	if flagRedisAddr == "" {
		return fmt.Errorf("reset-link requires --redis-addr (the running daemon must publish a control channel)")
	}
	log := newLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub, err := telemetry.NewPublisher(ctx, flagRedisAddr, flagRedisPassword, flagRedisDB, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	if err := pub.PublishControl(ctx, telemetry.ControlResetLink); err != nil {
		return err
	}
	fmt.Println("reset_link requested")
	return nil
}
