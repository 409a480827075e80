// Package transport implements LSNP's UDP listener, unicaster, and
// subnet-scoped broadcaster.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// BasePort is the first port the Listener probes.
const BasePort = 50999

// PortProbeRange is how many ports above BasePort are tried before giving
// up.
const PortProbeRange = 100

// Datagram is one inbound UDP datagram plus its source address.
type Datagram struct {
	Data       []byte
	SourceIP   string
	SourcePort int
}

// Listener owns a bound UDP socket and a channel of inbound datagrams.
type Listener struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	Port int
	In   chan Datagram
}

// socketControl sets SO_REUSEADDR and SO_BROADCAST on the raw socket
// before bind, the idiomatic way to get both options onto a net.ListenUDP
// socket in Go (the stdlib net package does not expose them directly).
func socketControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sockErr = e
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Listen binds a UDP socket starting at BasePort, probing upward on
// EADDRINUSE up to PortProbeRange times.
func Listen() (*Listener, error) {
	lc := net.ListenConfig{Control: socketControl}

	var conn net.PacketConn
	var port int
	var lastErr error
	for i := 0; i < PortProbeRange; i++ {
		port = BasePort + i
		c, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", port))
		if err == nil {
			conn = c
			break
		}
		lastErr = err
	}
	if conn == nil {
		return nil, fmt.Errorf("transport: no listening port available in [%d,%d]: %w", BasePort, BasePort+PortProbeRange-1, lastErr)
	}

	udpConn := conn.(*net.UDPConn)
	pc := ipv4.NewPacketConn(udpConn)
	// Ask the kernel to hand back the receiving interface on each read, so
	// Serve can log which NIC a datagram arrived on (useful on
	// multi-homed nodes); failure to enable this is not fatal, it just
	// means that diagnostic is unavailable.
	_ = pc.SetControlMessage(ipv4.FlagInterface, true)

	l := &Listener{
		conn: udpConn,
		pc:   pc,
		Port: port,
		In:   make(chan Datagram, 256),
	}
	slog.Info("listener bound", "port", port)
	return l, nil
}

// Serve reads datagrams until the connection is closed, delivering each to
// In. It returns when the read loop terminates (normally via Close).
func (l *Listener) Serve() {
	buf := make([]byte, 8192)
	for {
		n, cm, addr, err := l.pc.ReadFrom(buf)
		if err != nil {
			close(l.In)
			return
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		if cm != nil {
			slog.Debug("datagram received", "interface_index", cm.IfIndex, "from", udpAddr.String())
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		l.In <- Datagram{Data: cp, SourceIP: udpAddr.IP.String(), SourcePort: udpAddr.Port}
	}
}

// Close shuts down the listening socket, unblocking Serve.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// Unicast opens a transient UDP socket and sends one datagram. The
// returned bool reflects only a local send error, never delivery.
func Unicast(ip string, port int, data []byte) bool {
	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		slog.Warn("unicast dial failed", "ip", ip, "port", port, "err", err)
		return false
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		slog.Warn("unicast send failed", "ip", ip, "port", port, "err", err)
		return false
	}
	return true
}

// Broadcaster sends frames to the subnet broadcast address on BasePort.
type Broadcaster struct {
	localIP   net.IP
	broadcast net.IP
}

// NewBroadcaster inspects local interfaces to find the subnet broadcast
// address. It never falls back to 255.255.255.255 — only a genuine
// subnet-scoped broadcast is used.
func NewBroadcaster() (*Broadcaster, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("transport: list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			bcast := make(net.IP, 4)
			mask := ipNet.Mask
			for i := range ip4 {
				bcast[i] = ip4[i] | ^mask[i]
			}
			slog.Info("broadcast address resolved", "interface", iface.Name, "local_ip", ip4.String(), "broadcast", bcast.String())
			return &Broadcaster{localIP: ip4, broadcast: bcast}, nil
		}
	}
	return nil, fmt.Errorf("transport: no usable non-loopback IPv4 interface found")
}

// Send transmits data to <subnet-broadcast>:BasePort, binding the sending
// socket to the chosen local interface IP so the OS routes it correctly.
func (b *Broadcaster) Send(data []byte) error {
	laddr := &net.UDPAddr{IP: b.localIP, Port: 0}
	raddr := &net.UDPAddr{IP: b.broadcast, Port: BasePort}

	conn, err := net.DialUDP("udp4", laddr, raddr)
	if err != nil {
		return fmt.Errorf("transport: dial broadcast: %w", err)
	}
	defer conn.Close()

	rc, err := conn.SyscallConn()
	if err == nil {
		rc.Control(func(fd uintptr) {
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
		})
	}

	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("transport: send broadcast: %w", err)
	}
	return nil
}

// LocalIP returns the local IPv4 address used for broadcast sends.
func (b *Broadcaster) LocalIP() string {
	return b.localIP.String()
}
