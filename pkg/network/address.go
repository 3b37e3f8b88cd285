package network

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

type Address string

func (a *Address) Port() (int, error) {
	if len(string(*a)) == 0 {
		return 0, errors.New("no address")
	}
	parts := strings.Split(string(*a), ":")
	var port string
	if len(parts) == 1 {
		port = parts[0]
	} else {
		port = parts[len(parts)-1]
	}
	if val, err := strconv.Atoi(port); err == nil {
		return val, nil
	}
	return 0, errors.New("port is not a number")
}

// LocalAddr is one bound non-loopback address of this machine.
// Primary marks the address of the preferred outbound interface.
type LocalAddr struct {
	Address   string `json:"address"`
	Interface string `json:"interface"`
	Primary   bool   `json:"isPrimary"`
}

// LocalAddresses enumerates non-loopback IPv4 addresses of all interfaces
// that are up. Used for display only, not for negotiation.
func LocalAddresses() ([]LocalAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	primary := outboundIP()
	var out []LocalAddr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			out = append(out, LocalAddr{
				Address:   ip4.String(),
				Interface: iface.Name,
				Primary:   primary != "" && ip4.String() == primary,
			})
		}
	}
	return out, nil
}

// outboundIP finds the local address of the default route.
// No packets are sent, UDP dial just binds a source address.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer func() { _ = conn.Close() }()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}
