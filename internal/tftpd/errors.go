package tftpd

import "github.com/pxeboot/tftpd/internal/wire"

// mapSessionError turns a mid-transfer file read failure into the
// ERROR packet the session sends as its last word before terminating.
// Anything this deep into a transfer is unexpected (the file was
// already opened successfully by the listener), so it is reported as
// the generic "Not defined" code rather than guessed at.
func mapSessionError(err error) (wire.ErrorCode, string) {
	return wire.ErrUndefined, err.Error()
}
