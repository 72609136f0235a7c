package tftpd

import (
	"context"
	"errors"
	"net"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/pxeboot/tftpd/internal/clock"
	"github.com/pxeboot/tftpd/internal/fsroot"
	"github.com/pxeboot/tftpd/internal/metrics"
	"github.com/pxeboot/tftpd/internal/wire"
)

// maxDatagram is sized for the largest blksize RFC 2348 allows, plus
// the 4-byte DATA header.
const maxDatagram = wire.MaxBlksize + 4

// ListenerParams configures a Listener. The listener shares Root by
// reference with every Session it spawns and copies BlksizeCeiling and
// RetryBudget into each one; none of them are ever mutated after
// construction.
type ListenerParams struct {
	Addr                    string
	Root                    *fsroot.Root
	BlksizeCeiling          int
	RetryBudget             int
	SendFinalErrorOnTimeout bool

	Clock   clock.Clock
	Log     *logrus.Logger
	Metrics *metrics.Metrics
}

// Listener binds the well-known TFTP port and spawns a Session per
// valid RRQ. It keeps no per-client table; dispatch
// is entirely socket-per-session, so the listener never sees packets
// belonging to an established session.
type Listener struct {
	conn net.PacketConn
	p    ListenerParams
}

// NewListener binds p.Addr and returns a Listener ready to Run.
func NewListener(p ListenerParams) (*Listener, error) {
	conn, err := net.ListenPacket("udp", p.Addr)
	if err != nil {
		return nil, err
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	return &Listener{conn: conn, p: p}, nil
}

// LocalAddr returns the bound listening address.
func (l *Listener) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Close releases the listening socket. Sessions already spawned keep
// running on their own sockets.
func (l *Listener) Close() error { return l.conn.Close() }

// Run processes datagrams until ctx is cancelled or the listening
// socket is closed; any other read error is logged and the loop goes
// on. There is no internal queue: if spawning sessions falls behind, the
// listener drops datagrams rather than blocking, and TFTP clients
// retry on their own timer.
func (l *Listener) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.p.Log.WithError(err).Warn("tftpd: read from listening socket")
			continue
		}
		l.handle(ctx, addr, buf[:n])
	}
}

func (l *Listener) handle(ctx context.Context, addr net.Addr, datagram []byte) {
	pkt, err := wire.Decode(datagram)
	if err != nil {
		// Malformed packets are common on PXE networks; always
		// silently dropped.
		return
	}

	if pkt.Op != wire.OpRRQ {
		l.conn.WriteTo(wire.EncodeError(wire.ErrIllegalOperation, "illegal TFTP operation"), addr)
		return
	}

	if pkt.Mode == wire.Mail {
		l.conn.WriteTo(wire.EncodeError(wire.ErrIllegalOperation, "unsupported transfer mode"), addr)
		return
	}

	file, size, ferr := l.p.Root.Open(pkt.Filename)
	if ferr != nil {
		code, msg := wireErrorFor(ferr)
		l.conn.WriteTo(wire.EncodeError(code, msg), addr)
		return
	}

	sessConn, err := net.Dial("udp", addr.String())
	if err != nil {
		file.Close()
		l.p.Log.WithError(err).WithField("peer", addr).Warn("tftpd: could not open session socket")
		return
	}

	id := xid.New()
	log := l.p.Log.WithFields(logrus.Fields{
		"session":  id.String(),
		"peer":     addr.String(),
		"filename": pkt.Filename,
	})
	log.Info("tftpd: RRQ accepted")

	sess := NewSession(SessionParams{
		Conn:                    sessConn,
		File:                    file,
		FileSize:                size,
		Mode:                    pkt.Mode,
		Options:                 pkt.Options,
		BlksizeCeiling:          l.p.BlksizeCeiling,
		RetryBudget:             l.p.RetryBudget,
		SendFinalErrorOnTimeout: l.p.SendFinalErrorOnTimeout,
		Clock:                   l.p.Clock,
		Log:                     log,
		Metrics:                 l.p.Metrics,
	})
	go sess.Run(ctx)
}

func wireErrorFor(err error) (wire.ErrorCode, string) {
	var fsErr *fsroot.Error
	if errors.As(err, &fsErr) {
		return fsErr.WireCode(), fsErr.Error()
	}
	return wire.ErrUndefined, err.Error()
}
