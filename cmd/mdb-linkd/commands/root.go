package commands

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Global configuration flags shared across subcommands, bound the same
// way the teacher binds its flag.* globals in cmd/bluetooth-service's
// main() — generalized here to persistent cobra flags so every
// subcommand sees the same envelope (SPEC_FULL.md §4.8).
var (
	flagSerialDevice   string
	flagBaudrate       int
	flagSharedSecret   string
	flagAckTimeoutMS   uint16
	flagRetryLimit     uint8
	flagRespTimeoutMS  uint32
	flagRxHighWater    int
	flagRxLowWater     int
	flagEnableRLE      bool
	flagDatastorePath  string
	flagFilesystemRoot string
	flagRedisAddr      string
	flagRedisPassword  string
	flagRedisDB        int
	flagLogLevel       string
)

var rootCmd = &cobra.Command{
	Use:   "mdb-linkd",
	Short: "Host daemon for the MCU<->host binary RPC link",
	Long: `mdb-linkd runs the host side of the bidirectional binary RPC
link over a serial UART: framing/CRC, handshake, ACK/retry flow control,
and command dispatch to GPIO, console, datastore, mailbox, filesystem,
and process handlers, with an optional Redis telemetry mirror.`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagSerialDevice, "serial", "/dev/ttyUSB0", "Serial device path")
	pf.IntVar(&flagBaudrate, "baud", 115200, "Serial baud rate")
	pf.StringVar(&flagSharedSecret, "shared-secret", "", "HMAC-SHA256 shared secret (>=8 bytes, not the published placeholder)")
	pf.Uint16Var(&flagAckTimeoutMS, "ack-timeout-ms", 150, "Per-frame ACK deadline")
	pf.Uint8Var(&flagRetryLimit, "retry-limit", 3, "Retransmit attempts before a timeout surfaces")
	pf.Uint32Var(&flagRespTimeoutMS, "response-timeout-ms", 2000, "Write-all and handshake-response deadline")
	pf.IntVar(&flagRxHighWater, "rx-high-water", 192, "XOFF threshold (bytes buffered)")
	pf.IntVar(&flagRxLowWater, "rx-low-water", 64, "XON threshold (bytes buffered)")
	pf.BoolVar(&flagEnableRLE, "enable-rle", false, "Enable RLE compression heuristic on outbound blob payloads")
	pf.StringVar(&flagDatastorePath, "datastore-path", "", "Path to persist the datastore CBOR snapshot (empty disables persistence)")
	pf.StringVar(&flagFilesystemRoot, "filesystem-root", "./mdb-link-fs", "Root directory for FILE_* command handling")
	pf.StringVar(&flagRedisAddr, "redis-addr", "", "Redis address for telemetry mirror (empty disables telemetry)")
	pf.StringVar(&flagRedisPassword, "redis-password", "", "Redis password")
	pf.IntVar(&flagRedisDB, "redis-db", 0, "Redis logical database")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

// Execute runs the command tree; main() reports any returned error and
// exits non-zero.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(log)
}
