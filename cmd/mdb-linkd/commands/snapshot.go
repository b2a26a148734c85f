package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/librescoot/mdb-link/pkg/telemetry"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the Redis-mirrored take_snapshot() hash of a running daemon",
	RunE:  runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	if flagRedisAddr == "" {
		return fmt.Errorf("snapshot requires --redis-addr (the running daemon must publish its snapshot there)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     flagRedisAddr,
		Password: flagRedisPassword,
		DB:       flagRedisDB,
	})
	defer client.Close()

	fields, err := client.HGetAll(ctx, telemetry.DefaultSnapshotKey).Result()
	if err != nil {
		return fmt.Errorf("read snapshot hash: %w", err)
	}
	if len(fields) == 0 {
		fmt.Println("no snapshot published yet")
		return nil
	}

	for _, key := range []string{"state", "synchronized", "pending_tx_depth", "awaiting_ack", "last_command_id", "retry_count", "rx_gated", "taken_at"} {
		if v, ok := fields[key]; ok {
			fmt.Printf("%-18s %s\n", key, v)
		}
	}
	return nil
}
