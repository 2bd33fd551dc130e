package net

import (
	"time"

	"github.com/sirupsen/logrus"
)

// NewTCPTransport returns a Transport over a TCPStreamLayer bound to
// bindAddr.
func NewTCPTransport(
	bindAddr string,
	advertiseAddr string,
	dialTimeout time.Duration,
	logger *logrus.Entry,
) (*Transport, error) {
	stream, err := NewTCPStreamLayer(bindAddr, advertiseAddr)
	if err != nil {
		return nil, err
	}
	return NewTransport(stream, dialTimeout, logger), nil
}
