// Package logging wraps logrus with the verbosity policy the rest of
// the server expects: the wire and fsroot packages never log
// themselves; cmd/tftpd, the listener's accept loop and the sessions
// it spawns (through the per-session entry the listener hands each
// one) do.
package logging

import "github.com/sirupsen/logrus"

// New builds a logrus.Logger at Info level, or Debug level when
// verbose is set.
func New(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}
