package commands

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/librescoot/mdb-link/pkg/dispatcher"
	"github.com/librescoot/mdb-link/pkg/link"
	"github.com/librescoot/mdb-link/pkg/mcudevice"
	"github.com/librescoot/mdb-link/pkg/transport"
)

// buildLinkConfig assembles and validates a link.Config from the bound
// CLI flags, per the Configuration envelope spec.md §6 describes.
func buildLinkConfig() (link.Config, error) {
	cfg := link.Config{
		Baudrate:          flagBaudrate,
		SharedSecret:      []byte(flagSharedSecret),
		AckTimeoutMS:      flagAckTimeoutMS,
		RetryLimit:        flagRetryLimit,
		ResponseTimeoutMS: flagRespTimeoutMS,
		RxHighWater:       flagRxHighWater,
		RxLowWater:        flagRxLowWater,
		EnableRLE:         flagEnableRLE,
	}

	validated, err := link.Validate(cfg)
	if err != nil {
		return link.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return validated.Config, nil
}

// openTransport opens the configured serial device and starts its
// background reader.
func openTransport(log *logrus.Entry) (*transport.Transport, error) {
	port, err := transport.OpenSerial(flagSerialDevice, flagBaudrate)
	if err != nil {
		return nil, err
	}
	tr := transport.New(port, transport.Config{
		BufferCapacity: 256,
		HighWaterMark:  flagRxHighWater,
		LowWaterMark:   flagRxLowWater,
	}, log)
	tr.Start()
	return tr, nil
}

// buildHandlers constructs the reference pkg/mcudevice handler set and
// wires it into a dispatcher.Handlers bundle. The returned *dispatcher.MemDatastore
// is exposed separately so callers can load/save its CBOR snapshot
// around the daemon's lifetime.
func buildHandlers(baudrate uint32) (dispatcher.Handlers, *mcudevice.GPIO, *dispatcher.MemDatastore, error) {
	gpio := mcudevice.NewGPIO()
	fs, err := mcudevice.NewFilesystem(flagFilesystemRoot)
	if err != nil {
		return dispatcher.Handlers{}, nil, nil, err
	}
	ds := dispatcher.NewMemDatastore(flagDatastorePath)
	if err := ds.LoadSnapshot(); err != nil {
		return dispatcher.Handlers{}, nil, nil, err
	}

	handlers := dispatcher.Handlers{
		System:     mcudevice.NewSystem(baudrate),
		GPIO:       gpio,
		Console:    mcudevice.NewConsole(os.Stdout),
		Datastore:  ds,
		Mailbox:    mcudevice.NewMailbox(),
		Filesystem: fs,
		Process:    mcudevice.NewProcess(),
	}
	return handlers, gpio, ds, nil
}
