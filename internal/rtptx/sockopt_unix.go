package rtptx

import (
	"net"

	"golang.org/x/sys/unix"
)

// setBroadcast enables SO_BROADCAST on conn's underlying fd (spec.md §4.4
// "If a matching broadcast interface exists, enable SO_BROADCAST").
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// setMulticastOptions sets the multicast TTL and loopback flag on conn's
// underlying fd (spec.md §4.4 "set TTL and loopback per configuration").
func setMulticastOptions(conn *net.UDPConn, ttl int, loopback bool) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	loop := 0
	if loopback {
		loop = 1
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl); sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, loop)
	})
	if err != nil {
		return err
	}
	return sockErr
}
