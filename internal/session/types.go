package session

// Location is a point in the one-dimensional normalized overlay
// keyspace [0,1), circular. PRD treats it as opaque: only equality and
// distance matter to routing policy, which lives outside this package.
type Location float64

// Distance returns the circular distance between two keyspace
// locations, always in [0, 0.5].
func (l Location) Distance(other Location) float64 {
	d := float64(l - other)
	if d < 0 {
		d = -d
	}
	if d > 0.5 {
		d = 1 - d
	}
	return d
}

// PeerAddress is a resolvable network endpoint for datagram transport.
// PRD never interprets it beyond using it as a map key and handing it
// to the Transport it was constructed with.
type PeerAddress interface {
	String() string
}

// AddrString is the simplest PeerAddress: an opaque string, adequate
// for tests and for transports that already produce a canonical
// address string (e.g. net.UDPAddr.String()).
type AddrString string

// String implements PeerAddress.
func (a AddrString) String() string { return string(a) }
