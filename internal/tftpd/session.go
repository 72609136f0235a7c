// Package tftpd implements the per-client TFTP session state machine
// and the listener that spawns one per RRQ.
package tftpd

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/pxeboot/tftpd/internal/clock"
	"github.com/pxeboot/tftpd/internal/metrics"
	"github.com/pxeboot/tftpd/internal/wire"
)

// rawConn is the subset of net.Conn a Session needs. A connected
// net.Conn (from net.Dial) satisfies it directly: the kernel already
// enforces the "only talk to the peer that sent the first datagram"
// invariant for us, so the session never has to compare addresses
// itself.
type rawConn interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// sessionState tracks where a transfer is: waiting for the first ACK
// that confirms (or declines) any negotiated options, or already
// clocking DATA/ACK pairs back and forth.
type sessionState int

const (
	stateAwaitingOptions sessionState = iota
	stateTransferring
)

// SessionParams carries everything a Session needs; the listener
// builds one of these per accepted RRQ.
type SessionParams struct {
	Conn     rawConn
	File     io.ReadCloser
	FileSize int64
	Mode     wire.Mode
	Options  []wire.Option // options requested in the RRQ, verbatim

	BlksizeCeiling          int
	RetryBudget             int
	SendFinalErrorOnTimeout bool

	Clock   clock.Clock
	Log     *logrus.Entry
	Metrics *metrics.Metrics
}

// Session is one in-flight RRQ transfer. It owns Conn and File for its
// entire lifetime and closes both on every exit path.
type Session struct {
	p SessionParams
}

// NewSession constructs a Session ready to Run.
func NewSession(p SessionParams) *Session {
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	return &Session{p: p}
}

// incomingPacket is what the background read loop hands to Run.
type incomingPacket struct {
	pkt wire.Packet
	err error
}

// Run drives the session to completion: OACK/DATA/ACK/ERROR lock-step
// until Terminated, by the ACK of the final DATA block, an error, or
// retry exhaustion. It
// returns once the session's socket and file handle have been closed.
func (s *Session) Run(ctx context.Context) {
	p := &s.p
	defer p.File.Close()
	defer p.Conn.Close()

	incoming := make(chan incomingPacket, 1)
	done := make(chan struct{})
	defer close(done)
	go s.readLoop(incoming, done)

	fileSize := p.FileSize
	opts, accepted := negotiate(p.Options, p.BlksizeCeiling, fileSize)
	p.Metrics.TransfersStarted.Inc()

	var (
		state       sessionState
		lastSent    []byte
		expectedAck uint16
		blockNum    uint16
		finalSent   bool
	)

	sendData := func(block uint16) (isFinal bool, ferr error) {
		data, isFinal, rerr := readBlock(p.File, opts.Blksize)
		if rerr != nil {
			return false, rerr
		}
		lastSent = wire.EncodeData(block, data)
		if _, werr := p.Conn.Write(lastSent); werr != nil {
			return isFinal, werr
		}
		p.Metrics.BytesSent.Add(float64(len(data)))
		return isFinal, nil
	}

	if len(accepted) == 0 {
		isFinal, err := sendData(1)
		if err != nil {
			s.abort(err)
			return
		}
		blockNum, expectedAck, finalSent = 1, 1, isFinal
		state = stateTransferring
	} else {
		lastSent = wire.EncodeOACK(accepted)
		if _, err := p.Conn.Write(lastSent); err != nil {
			s.abort(err)
			return
		}
		expectedAck = 0
		state = stateAwaitingOptions
	}

	retries := 0
	for {
		timeout := p.Clock.After(opts.Timeout)
		select {
		case <-ctx.Done():
			return

		case in, ok := <-incoming:
			if !ok || in.err != nil {
				return
			}
			switch in.pkt.Op {
			case wire.OpACK:
				if in.pkt.Block != expectedAck {
					// Either a duplicate of the previous ACK, or a
					// stale one after wrap: both are ignored, never
					// retransmitted (Sorcerer's-Apprentice avoidance).
					continue
				}
				retries = 0

				if state == stateAwaitingOptions {
					isFinal, err := sendData(1)
					if err != nil {
						s.abort(err)
						return
					}
					blockNum, expectedAck, finalSent = 1, 1, isFinal
					state = stateTransferring
					continue
				}

				if finalSent {
					p.Metrics.TransfersCompleted.Inc()
					return
				}
				blockNum++ // uint16 wraps 0xFFFF -> 0x0000 automatically
				isFinal, err := sendData(blockNum)
				if err != nil {
					s.abort(err)
					return
				}
				expectedAck, finalSent = blockNum, isFinal

			case wire.OpERROR:
				p.Metrics.TransfersFailed.Inc()
				if state == stateAwaitingOptions {
					// Some PXE firmware requests tsize purely to size
					// a buffer and aborts right after OACK; that is
					// normal traffic, not a server fault.
					p.Log.WithField("code", in.pkt.ErrorCode).Debug("client aborted after OACK")
				} else {
					p.Log.WithField("code", in.pkt.ErrorCode).Warn("client aborted transfer")
				}
				return

			default:
				p.Conn.Write(wire.EncodeError(wire.ErrIllegalOperation, "illegal TFTP operation"))
				p.Metrics.TransfersFailed.Inc()
				p.Log.WithField("op", in.pkt.Op).Warn("illegal TFTP operation from peer")
				return
			}

		case <-timeout:
			if retries >= p.RetryBudget {
				p.Metrics.TransfersTimedOut.Inc()
				if p.SendFinalErrorOnTimeout {
					p.Conn.Write(wire.EncodeError(wire.ErrUndefined, "timed out waiting for ACK"))
				}
				p.Log.WithField("retries", retries).Warn("session timed out waiting for ACK")
				return
			}
			retries++
			p.Metrics.Retransmits.Inc()
			p.Conn.Write(lastSent)
		}
	}
}

func (s *Session) abort(err error) {
	s.p.Metrics.TransfersFailed.Inc()
	code, msg := mapSessionError(err)
	s.p.Conn.Write(wire.EncodeError(code, msg))
	s.p.Log.WithError(err).Warn("session aborted")
}

// readLoop decodes datagrams off Conn and hands them to Run until Conn
// is closed or Run has already returned. It runs for the lifetime of
// the session so a timeout-driven retransmit never has to race a
// fresh Read call. done is closed by Run on every exit path, so a
// send that arrives after Run has stopped draining incoming (a
// trailing duplicate ACK, the Read error from Run's own deferred
// Conn.Close) never blocks readLoop forever.
func (s *Session) readLoop(out chan<- incomingPacket, done <-chan struct{}) {
	buf := make([]byte, wire.MaxBlksize+4)
	for {
		n, err := s.p.Conn.Read(buf)
		if err != nil {
			select {
			case out <- incomingPacket{err: err}:
			case <-done:
			}
			return
		}
		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			// Malformed datagram mid-session: silently dropped, keep
			// waiting for the next one.
			continue
		}
		select {
		case out <- incomingPacket{pkt: pkt}:
		case <-done:
			return
		}
	}
}

// readBlock reads exactly one blksize-sized chunk from r. The final
// block is the one a short or zero-length read produces, including an
// empty block when the file length is an exact multiple of blksize.
func readBlock(r io.Reader, blksize int) (data []byte, final bool, err error) {
	buf := make([]byte, blksize)
	n, rerr := io.ReadFull(r, buf)
	switch {
	case rerr == nil:
		return buf, false, nil
	case rerr == io.ErrUnexpectedEOF || rerr == io.EOF:
		return buf[:n], true, nil
	default:
		return nil, false, rerr
	}
}
