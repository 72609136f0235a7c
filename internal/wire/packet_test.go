package wire

import (
	"bytes"
	"testing"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
	}{
		{
			name: "RRQ no options",
			pkt:  Packet{Op: OpRRQ, Filename: "boot/pxelinux.0", Mode: Octet},
		},
		{
			name: "RRQ with options",
			pkt: Packet{
				Op: OpRRQ, Filename: "kernel", Mode: Octet,
				Options: []Option{{Name: "blksize", Value: "1428"}, {Name: "tsize", Value: "0"}},
			},
		},
		{
			name: "DATA with payload",
			pkt:  Packet{Op: OpDATA, Block: 0xbbaa, Data: []byte("hi\n")},
		},
		{
			name: "DATA empty final block",
			pkt:  Packet{Op: OpDATA, Block: 3, Data: []byte{}},
		},
		{
			name: "ACK",
			pkt:  Packet{Op: OpACK, Block: 0xbbaa},
		},
		{
			name: "ERROR",
			pkt:  Packet{Op: OpERROR, ErrorCode: ErrAccessViolation, ErrorMessage: "access violation"},
		},
		{
			name: "OACK",
			pkt: Packet{
				Op: OpOACK,
				OACKOptions: []Option{
					{Name: "blksize", Value: "1428"},
					{Name: "tsize", Value: "5000"},
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.pkt)
			got, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode(Encode(p)) failed: %v", err)
			}
			if got.Op != tc.pkt.Op {
				t.Fatalf("Op = %v, want %v", got.Op, tc.pkt.Op)
			}
			switch tc.pkt.Op {
			case OpRRQ, OpWRQ:
				if got.Filename != tc.pkt.Filename || got.Mode != tc.pkt.Mode {
					t.Fatalf("got %+v, want %+v", got, tc.pkt)
				}
				if !optionsEqual(got.Options, tc.pkt.Options) {
					t.Fatalf("options got %+v, want %+v", got.Options, tc.pkt.Options)
				}
			case OpDATA:
				if got.Block != tc.pkt.Block || !bytes.Equal(got.Data, tc.pkt.Data) {
					t.Fatalf("got %+v, want %+v", got, tc.pkt)
				}
			case OpACK:
				if got.Block != tc.pkt.Block {
					t.Fatalf("got block %d, want %d", got.Block, tc.pkt.Block)
				}
			case OpERROR:
				if got.ErrorCode != tc.pkt.ErrorCode || got.ErrorMessage != tc.pkt.ErrorMessage {
					t.Fatalf("got %+v, want %+v", got, tc.pkt)
				}
			case OpOACK:
				if !optionsEqual(got.OACKOptions, tc.pkt.OACKOptions) {
					t.Fatalf("options got %+v, want %+v", got.OACKOptions, tc.pkt.OACKOptions)
				}
			}
		})
	}
}

func optionsEqual(a, b []Option) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDecodeShortPacketNeverPanics(t *testing.T) {
	full := Encode(Packet{Op: OpOACK, OACKOptions: []Option{{Name: "blksize", Value: "1428"}}})
	for i := 0; i <= len(full); i++ {
		if _, err := Decode(full[:i]); err != nil {
			// Any error is acceptable; panicking is not, and the
			// defer/recover-free call above would have already
			// failed the test if it panicked.
			continue
		}
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	_, err := Decode([]byte{0, 7})
	if err != ErrUnknownOpcode {
		t.Fatalf("err = %v, want ErrUnknownOpcode", err)
	}
}

func TestDecodeMailMode(t *testing.T) {
	p, err := Decode([]byte("\x00\x01test\x00mail\x00"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Op != OpRRQ || p.Filename != "test" || p.Mode != Mail {
		t.Fatalf("got %+v", p)
	}
}

func TestDecodeUnknownModeRejected(t *testing.T) {
	_, err := Decode([]byte("\x00\x01test\x00bogus\x00"))
	if err != ErrUnknownMode {
		t.Fatalf("err = %v, want ErrUnknownMode", err)
	}
}

func TestDecodeOptionsPreservedVerbatimForUnknownNames(t *testing.T) {
	p, err := Decode([]byte("\x00\x01test\x00octet\x00windowsize\x0016\x00multicast\x00\x00"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(p.Options) != 2 {
		t.Fatalf("got %d options, want 2: %+v", len(p.Options), p.Options)
	}
	if p.Options[0].Name != "windowsize" || p.Options[0].Value != "16" {
		t.Fatalf("got %+v", p.Options[0])
	}
	if p.Options[1].Name != "multicast" || p.Options[1].Value != "" {
		t.Fatalf("got %+v", p.Options[1])
	}
}
