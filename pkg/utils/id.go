package utils

import (
	"fmt"
	"hash/fnv"
	"math/big"
	"net"
	"strconv"
	"strings"
)

// ConnectionID derives the relay identity of a client from its transport
// address: every IP byte as two uppercase hex digits followed by the port as
// four. IPv4 yields 12 characters, IPv6 36.
func ConnectionID(remoteAddr string) (string, error) {
	host, portStr, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return "", fmt.Errorf("invalid remote address %q: %w", remoteAddr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", fmt.Errorf("invalid port in %q: %w", remoteAddr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("invalid ip in %q", remoteAddr)
	}

	var b strings.Builder
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, octet := range ip {
		fmt.Fprintf(&b, "%02X", octet)
	}
	fmt.Fprintf(&b, "%04X", port)
	return b.String(), nil
}

// SessionID derives a media session id from the initiating identity and a
// relay-synchronized timestamp: the identity read as a hex number plus ts,
// formatted back as lowercase hex. Identities that are not hex are hashed.
func SessionID(identity string, ts int64) string {
	n, ok := new(big.Int).SetString(identity, 16)
	if !ok {
		h := fnv.New64a()
		h.Write([]byte(identity))
		n = new(big.Int).SetUint64(h.Sum64())
	}
	return n.Add(n, big.NewInt(ts)).Text(16)
}
