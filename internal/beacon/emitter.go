// Package beacon implements the periodic server-presence emitter with
// adaptive cadence: frequent at startup, slow once the peer population has
// had a chance to notice the server.
package beacon

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"pvanet/internal/codec"
	"pvanet/internal/metrics"
	"pvanet/internal/timer"
	"pvanet/internal/transport"
)

const (
	// minBeaconPeriod floors the configured fast period.
	minBeaconPeriod = 1 * time.Second

	// slowBeaconPeriod is the cadence after the startup burst.
	slowBeaconPeriod = 180 * time.Second

	// beaconCountLimit is how many fast beacons are sent before switching
	// to the slow period.
	beaconCountLimit uint16 = 10
)

// ServerStatusProvider supplies the optional status payload appended to each
// beacon. Errors and panics are tolerated: the beacon goes out without status.
type ServerStatusProvider interface {
	ServerStatus() (interface{}, error)
}

// Emitter periodically enqueues itself as a send request on the server's UDP
// transport. All sends run on the transport's serialized send path, so the
// mutable fields below are only ever touched by one send at a time.
type Emitter struct {
	transport transport.Transport
	log       zerolog.Logger

	sequenceID     uint16
	startupSeconds int64
	startupNanos   int32
	serverIP       net.IP
	serverPort     uint16

	fastPeriod time.Duration
	slowPeriod time.Duration
	countLimit uint16

	statusProvider ServerStatusProvider

	tm        *timer.Timer
	node      *timer.Node
	cancelled atomic.Bool
}

// NewEmitter returns an emitter advertising serverAddr over tr. beaconPeriod
// is the configured fast period; it is floored at one second, and the slow
// period never undercuts it.
func NewEmitter(tr transport.Transport, serverAddr *net.UDPAddr, beaconPeriod time.Duration, tm *timer.Timer, provider ServerStatusProvider, log zerolog.Logger) *Emitter {
	fast := beaconPeriod
	if fast < minBeaconPeriod {
		fast = minBeaconPeriod
	}
	slow := slowBeaconPeriod
	if slow < fast {
		slow = fast
	}

	now := time.Now()
	e := &Emitter{
		transport:      tr,
		log:            log,
		startupSeconds: now.Unix(),
		startupNanos:   int32(now.Nanosecond()),
		serverIP:       serverAddr.IP,
		serverPort:     uint16(serverAddr.Port),
		fastPeriod:     fast,
		slowPeriod:     slow,
		countLimit:     beaconCountLimit,
		statusProvider: provider,
		tm:             tm,
	}
	e.node = timer.NewNode(e.callback)
	return e
}

// Start schedules the first beacon immediately.
func (e *Emitter) Start() {
	e.tm.ScheduleAfterDelay(e.node, 0)
}

// Destroy cancels the pending schedule and suppresses any reschedule from a
// send already in flight.
func (e *Emitter) Destroy() {
	e.cancelled.Store(true)
	e.node.Cancel()
}

// TimerStopped is a no-op; the emitter does not own the timer.
func (e *Emitter) TimerStopped() {}

func (e *Emitter) callback() {
	if e.cancelled.Load() {
		return
	}
	e.transport.EnqueueSendRequest(e)
}

func (e *Emitter) Lock()   {}
func (e *Emitter) Unlock() {}

// Send writes one beacon frame and schedules the next one.
func (e *Emitter) Send(buf *codec.Buffer, control transport.TransportSendControl) {
	status := e.serverStatus()

	control.StartMessage(codec.CmdBeacon, 2+2*4+128+2)

	buf.PutUint16(e.sequenceID)
	buf.PutUint64(uint64(e.startupSeconds))
	buf.PutUint32(uint32(e.startupNanos))
	codec.EncodeAsIPv6(buf, e.serverIP)
	buf.PutUint16(e.serverPort)
	writeStatus(buf, status, e.log)

	control.Flush(true)
	metrics.BeaconsSent.Inc()

	e.sequenceID++ // wraps at 2^16, by design of the wire field
	e.reschedule()
}

// serverStatus queries the provider, shielding the send path from a broken
// implementation.
func (e *Emitter) serverStatus() interface{} {
	if e.statusProvider == nil {
		return nil
	}

	var status interface{}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("status provider panicked: %v", r)
			}
		}()
		status, err = e.statusProvider.ServerStatus()
		return
	}()
	if err != nil {
		e.log.Warn().Err(err).Msg("Server status provider failed, sending beacon without status")
		return nil
	}
	return status
}

func (e *Emitter) reschedule() {
	if e.cancelled.Load() {
		return
	}
	e.tm.ScheduleAfterDelay(e.node, e.period())
}

// period returns the cadence for the next beacon. The sequence id has already
// been incremented, so the switch to the slow period happens after exactly
// countLimit beacons.
func (e *Emitter) period() time.Duration {
	if e.sequenceID >= e.countLimit {
		return e.slowPeriod
	}
	return e.fastPeriod
}
