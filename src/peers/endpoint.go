package peers

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint identifies a node candidate.
type Endpoint struct {
	Host string
	Port uint16
}

// ParseEndpoint parses "host:port". Hosts may be names or IP addresses.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, err
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q has no host", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Endpoint{}, fmt.Errorf("endpoint %q has an invalid port", s)
	}
	return Endpoint{Host: host, Port: uint16(port)}, nil
}

// FromAddr converts a TCP-like net.Addr.
func FromAddr(addr net.Addr) (Endpoint, error) {
	return ParseEndpoint(addr.String())
}

// String ...
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// WithPort returns the endpoint on the same host with another port. Inbound
// peers dial from ephemeral ports; the port they listen on comes from their
// Version.
func (e Endpoint) WithPort(port uint16) Endpoint {
	return Endpoint{Host: e.Host, Port: port}
}

// IsZero ...
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// ExcludeEndpoint returns endpoints without e.
func ExcludeEndpoint(endpoints []Endpoint, e Endpoint) []Endpoint {
	res := make([]Endpoint, 0, len(endpoints))
	for _, o := range endpoints {
		if o != e {
			res = append(res, o)
		}
	}
	return res
}
