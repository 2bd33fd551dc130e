package p2p

import (
	"github.com/jcuga/go-upnp"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/ledgerd/src/peers"
)

// mapPort asks the gateway to forward port to us and returns the external
// endpoint. It is best effort: most networks have no UPnP gateway.
func mapPort(port uint16, logger *logrus.Entry) (peers.Endpoint, error) {
	d, err := upnp.Discover()
	if err != nil {
		return peers.Endpoint{}, err
	}

	ip, err := d.ExternalIP()
	if err != nil {
		return peers.Endpoint{}, err
	}

	if err := d.Forward(port, "ledgerd", "TCP"); err != nil {
		return peers.Endpoint{}, err
	}

	ep := peers.Endpoint{Host: ip, Port: port}
	logger.WithField("external", ep).Info("UPnP port mapping")
	return ep, nil
}
