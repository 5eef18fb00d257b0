package bus

import (
	"fmt"

	"github.com/opensource-finance/sentinelstream/internal/domain"
)

// New creates an event bus for the configured type: "channel" or "nats".
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = fmt.Errorf("bus is closed")
