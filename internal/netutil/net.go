package netutil

import (
	"fmt"
	"net"
)

// OutboundIP returns the machine's preferred outbound IP address, used when
// registering a service instance with the discovery backend.
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("failed to dial to get outbound IP: %w", err)
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
