package tftpd

import (
	"strconv"
	"strings"
	"time"

	"github.com/pxeboot/tftpd/internal/wire"
)

// negotiated is what RFC 2347/2348/2349 option negotiation produces:
// the values the session actually uses, independent of whether they
// were ever mentioned in the RRQ.
type negotiated struct {
	Blksize int
	Timeout time.Duration
	TSize   *int64
}

// negotiate computes the accepted option subset for an OACK (soft
// clamp: out-of-range requests are included at their clamped value
// rather than omitted, per the Open Question decision in SPEC_FULL.md)
// and the values the session itself will use. Unknown option names are
// silently omitted, never an error.
func negotiate(requested []wire.Option, blksizeCeiling int, fileSize int64) (negotiated, []wire.Option) {
	n := negotiated{Blksize: wire.DefaultBlksize, Timeout: wire.DefaultTimeout}
	var accepted []wire.Option

	ceiling := blksizeCeiling
	if ceiling > wire.MaxBlksize {
		ceiling = wire.MaxBlksize
	}

	for _, opt := range requested {
		switch strings.ToLower(opt.Name) {
		case "blksize":
			v, ok := opt.Int()
			if !ok {
				continue
			}
			n.Blksize = clamp(v, wire.MinBlksize, ceiling)
			accepted = append(accepted, wire.Option{Name: "blksize", Value: strconv.Itoa(n.Blksize)})

		case "timeout":
			v, ok := opt.Int()
			if !ok {
				continue
			}
			secs := clamp(v, 1, 255)
			n.Timeout = time.Duration(secs) * time.Second
			accepted = append(accepted, wire.Option{Name: "timeout", Value: strconv.Itoa(secs)})

		case "tsize":
			v, ok := opt.Int()
			if !ok {
				continue
			}
			if v == 0 {
				ts := fileSize
				n.TSize = &ts
				accepted = append(accepted, wire.Option{Name: "tsize", Value: strconv.FormatInt(fileSize, 10)})
			}
			// A non-zero client tsize is a write-side hint; ignored.

		default:
			// Unknown option: preserved by the decoder, discarded here.
		}
	}

	return n, accepted
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
