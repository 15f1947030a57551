package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/pkg/log"
)

// SlotHashTopic is the ZMQ topic carrying slot notifications.
const SlotHashTopic = "slothash"

const slotFeedPoll = 250 * time.Millisecond

// SlotFeed advances a slot-hash history from an upstream publisher. Each
// message is the topic frame followed by slot u64 ‖ hash [32].
type SlotFeed struct {
	socket   *zmq.Socket
	endpoint string
	slots    *SlotHashes
	logger   *log.Logger
}

// NewSlotFeed creates a feed that will push into slots.
func NewSlotFeed(endpoint string, slots *SlotHashes, logger *log.Logger) (*SlotFeed, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	if err := socket.SetRcvtimeo(slotFeedPoll); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to set ZMQ receive timeout: %w", err)
	}

	return &SlotFeed{
		socket:   socket,
		endpoint: endpoint,
		slots:    slots,
		logger:   logger.WithComponent("slot_feed"),
	}, nil
}

// Connect subscribes to SlotHashTopic at the feed's endpoint.
func (f *SlotFeed) Connect() error {
	if err := f.socket.SetSubscribe(SlotHashTopic); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", SlotHashTopic, err)
	}
	if err := f.socket.Connect(f.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", f.endpoint, err)
	}
	f.logger.Info("connected to slot feed", "endpoint", f.endpoint)
	return nil
}

// Run receives notifications until ctx is done.
func (f *SlotFeed) Run(ctx context.Context) error {
	f.logger.Info("starting slot feed listener")

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("slot feed listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := f.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			f.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}
		if len(msg) < 2 {
			f.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		if err := f.HandleMessage(string(msg[0]), msg[1]); err != nil {
			f.logger.Error("failed to handle slot notification", "error", err)
		}
	}
}

// HandleMessage applies one notification.
func (f *SlotFeed) HandleMessage(topic string, data []byte) error {
	if topic != SlotHashTopic {
		f.logger.Warn("unknown ZMQ topic", "topic", topic)
		return nil
	}
	slot, hash, err := DecodeSlotHashMessage(data)
	if err != nil {
		return err
	}
	if err := f.slots.Push(slot, hash); err != nil {
		return err
	}
	f.logger.Debug("slot advanced", "slot", slot, "hash", hash.String())
	return nil
}

// Close closes the socket.
func (f *SlotFeed) Close() error {
	if f.socket != nil {
		return f.socket.Close()
	}
	return nil
}

// EncodeSlotHashMessage builds a notification payload.
func EncodeSlotHashMessage(slot uint64, hash account.Hash) []byte {
	return append(binary.LittleEndian.AppendUint64(nil, slot), hash[:]...)
}

// DecodeSlotHashMessage parses a notification payload.
func DecodeSlotHashMessage(data []byte) (uint64, account.Hash, error) {
	var hash account.Hash
	if len(data) != slotHashEntrySize {
		return 0, hash, fmt.Errorf("invalid slot notification length: %d", len(data))
	}
	copy(hash[:], data[8:])
	return binary.LittleEndian.Uint64(data), hash, nil
}
