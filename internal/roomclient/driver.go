// Package roomclient drives one room's feed recording indefinitely
// across transient failures: Discover the room's hosts, Connect a
// stream, forward every payload to Streaming persistence, Cooldown and
// retry. Failures in Discover/Connect loop back with a fixed backoff;
// a failure to persist a payload is not recoverable and panics the
// driver, per the durability contract in internal/logwriter.
package roomclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"livekit-feed/internal/discovery"
	"livekit-feed/internal/feed"
	"livekit-feed/internal/feederr"
	"livekit-feed/internal/feedstream"
	"livekit-feed/internal/logging"
	"livekit-feed/internal/logwriter"
	"livekit-feed/internal/wire"
)

// State names the driver's position in the Discover/Connect/Streaming/
// Cooldown state machine.
type State string

const (
	StateDiscover  State = "discover"
	StateConnect   State = "connect"
	StateStreaming State = "streaming"
	StateCooldown  State = "cooldown"
)

// Snapshot is a point-in-time view of one driver, for readiness and
// metrics reporting.
type Snapshot struct {
	RoomID         feed.RoomID
	State          State
	ConnectedSince time.Time
	LastError      error
	RowsWritten    uint64
	BytesWritten   uint64
}

// connectInfo is the init handshake's JSON body. Field layout mirrors
// the upstream ConnectInfo message; protover and type are opaque
// upstream constants with no documented meaning beyond "the value that
// works".
type connectInfo struct {
	UID      uint32  `json:"uid"`
	RoomID   uint32  `json:"roomid"`
	ProtoVer uint8   `json:"protover"`
	Platform string  `json:"platform"`
	Type     uint8   `json:"type"`
	Key      *string `json:"key,omitempty"`
}

const (
	defaultProtoVer = 3
	defaultType     = 2
	platformWeb     = "web"
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	originWeb       = "https://live.bilibili.com"
)

// Options configures a Driver.
type Options struct {
	RoomID            feed.RoomID
	Discovery         *discovery.Client
	Writer            *logwriter.RoomHandle
	Transport         string // "ws" or "tcp"
	HeartbeatInterval time.Duration
	ReconnectBackoff  time.Duration
	InitBackoff       time.Duration
	Logger            *logging.Logger
	// Fanout, if non-nil, receives a copy of every payload in addition
	// to the durable write. Sends respect ctx cancellation.
	Fanout chan<- feed.Payload
	Rand   *rand.Rand
}

// Driver owns one room's Discover/Connect/Streaming/Cooldown loop.
type Driver struct {
	roomID            feed.RoomID
	discovery         *discovery.Client
	writer            *logwriter.RoomHandle
	transport         string
	heartbeatInterval time.Duration
	reconnectBackoff  time.Duration
	initBackoff       time.Duration
	logger            *logging.Logger
	fanout            chan<- feed.Payload
	rand              *rand.Rand

	mu       sync.Mutex
	snapshot Snapshot
}

// New constructs a Driver. Unset durations fall back to feed's package
// defaults.
func New(opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = feed.DefaultHeartbeatInterval
	}
	reconnect := opts.ReconnectBackoff
	if reconnect <= 0 {
		reconnect = feed.DefaultReconnectBackoff
	}
	initBackoff := opts.InitBackoff
	if initBackoff <= 0 {
		initBackoff = feed.DefaultInitBackoff
	}
	transport := opts.Transport
	if transport == "" {
		transport = "ws"
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewSource(int64(opts.RoomID)*2654435761 + time.Now().UnixNano()))
	}
	return &Driver{
		roomID:            opts.RoomID,
		discovery:         opts.Discovery,
		writer:            opts.Writer,
		transport:         transport,
		heartbeatInterval: heartbeat,
		reconnectBackoff:  reconnect,
		initBackoff:       initBackoff,
		logger:            logger.With(logging.Room(int32(opts.RoomID)), logging.Transport(transport)),
		fanout:            opts.Fanout,
		rand:              r,
		snapshot:          Snapshot{RoomID: opts.RoomID, State: StateDiscover},
	}
}

// Snapshot returns the driver's current state for readiness/metrics.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.snapshot.State = s
	d.mu.Unlock()
}

func (d *Driver) setLastError(err error) {
	d.mu.Lock()
	d.snapshot.LastError = err
	d.mu.Unlock()
}

func (d *Driver) setConnectedSince(t time.Time) {
	d.mu.Lock()
	d.snapshot.ConnectedSince = t
	d.mu.Unlock()
}

func (d *Driver) incRowsWritten(bytes int) {
	d.mu.Lock()
	d.snapshot.RowsWritten++
	d.snapshot.BytesWritten += uint64(bytes)
	d.mu.Unlock()
}

// Run drives the state machine until ctx is cancelled. It returns nil
// on cancellation; a persistence failure panics instead of returning,
// per the durability contract.
func (d *Driver) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		d.setState(StateDiscover)
		hosts, err := d.discovery.Discover(ctx, d.roomID)
		if err != nil {
			d.setLastError(err)
			d.logger.Warn("discovery failed", logging.Error(err))
			if !d.sleep(ctx, d.initBackoff) {
				return nil
			}
			continue
		}
		if len(hosts.HostList) == 0 {
			d.setLastError(fmt.Errorf("roomclient: discovery returned no hosts"))
			d.logger.Warn("discovery returned no hosts")
			if !d.sleep(ctx, d.initBackoff) {
				return nil
			}
			continue
		}
		host := hosts.HostList[d.rand.Intn(len(hosts.HostList))]

		d.setState(StateConnect)
		stream, err := d.connect(ctx, host, hosts.Token)
		if err != nil {
			d.setLastError(err)
			d.logger.Warn("connect failed", logging.Error(err))
			if !d.sleep(ctx, d.initBackoff) {
				return nil
			}
			continue
		}

		d.setState(StateStreaming)
		d.setConnectedSince(time.Now())
		d.setLastError(nil)
		streamErr := d.stream(ctx, stream)
		stream.Close()
		if streamErr != nil {
			d.setLastError(streamErr)
			d.logger.Warn("stream ended", logging.Error(streamErr))
		}

		d.setState(StateCooldown)
		if !d.sleep(ctx, d.reconnectBackoff) {
			return nil
		}
	}
}

func (d *Driver) connect(ctx context.Context, host discovery.Host, token string) (feedstream.Stream, error) {
	key := token
	body, err := json.Marshal(connectInfo{
		UID:      0,
		RoomID:   uint32(d.roomID),
		ProtoVer: defaultProtoVer,
		Platform: platformWeb,
		Type:     defaultType,
		Key:      &key,
	})
	if err != nil {
		return nil, fmt.Errorf("roomclient: encode init body: %w", err)
	}
	frame, err := wire.Encode(wire.InitRequest{Text: string(body)})
	if err != nil {
		return nil, fmt.Errorf("roomclient: encode init frame: %w", err)
	}

	if d.transport == "tcp" {
		return feedstream.DialTCP(host.TCPAddr(), frame, d.heartbeatInterval)
	}

	header := http.Header{}
	header.Set("Origin", originWeb)
	header.Set("User-Agent", userAgent)
	return feedstream.DialWS(host.WSSURL(), header, frame, d.heartbeatInterval)
}

// stream forwards every payload the stream yields to the room's writer
// handle, and optionally to the fanout channel, until Recv errors.
func (d *Driver) stream(ctx context.Context, s feedstream.Stream) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, err := s.Recv()
		if err != nil {
			return err
		}

		if err := d.writer.InsertPayload(payload); err != nil {
			key := payload.Key()
			panic(&feederr.PersistenceFailure{
				Room:  int32(d.roomID),
				Key:   key[:],
				Value: payload.Data,
				Err:   err,
			})
		}
		d.incRowsWritten(len(payload.Data))

		if d.fanout != nil {
			select {
			case d.fanout <- payload:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// sleep waits for dur or until ctx is cancelled, reporting whether the
// wait completed (false means the caller should stop).
func (d *Driver) sleep(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
