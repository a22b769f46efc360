package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

const (
	// ForwardingPort is the gateway's session port.
	ForwardingPort = 30303
	// DiscoveryPort receives gateway advertisement broadcasts.
	DiscoveryPort = 30304

	DefaultDiscoveryTimeout = 600 * time.Second
	// MaxDiscoveryErrors is how many unparsable datagrams discovery
	// tolerates before giving up.
	MaxDiscoveryErrors = 5

	pollInterval = 100 * time.Millisecond
	maxDatagram  = 256
)

// Gateway is a discovered gateway.
type Gateway struct {
	Advertisement
	// Addr is the advertiser's source IP on the forwarding port.
	Addr *net.UDPAddr
}

// Discover listens on conn for gateway advertisements until one matches
// targetMAC (0 accepts any gateway), timeout elapses, ctx is cancelled or
// MaxDiscoveryErrors malformed datagrams have been seen. Advertisements
// for other gateways are ignored and do not count as errors. Without a
// target, an advertisement whose MAC does not parse is still accepted.
func Discover(ctx context.Context, conn net.PacketConn, targetMAC uint64, timeout time.Duration, logger *slog.Logger) (Gateway, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, maxDatagram)
	remaining := MaxDiscoveryErrors

	logger.Info("listening for gateways", "target", FormatMAC(targetMAC), "timeout", timeout)
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return Gateway{}, err
		}
		now := time.Now()
		if !now.Before(deadline) {
			break
		}
		conn.SetReadDeadline(minTime(deadline, now.Add(pollInterval)))

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return Gateway{}, fmt.Errorf("session: discovery read: %w", err)
		}

		adv, err := ParseAdvertisement(buf[:n])
		if err != nil && !(targetMAC == 0 && errors.Is(err, ErrAdvertMAC)) {
			remaining--
			logger.Debug("unrecognised discovery packet", "from", from, "err", err)
			continue
		}
		if targetMAC != 0 && adv.MAC != targetMAC {
			logger.Debug("ignoring gateway", "name", adv.NetBIOSName, "mac", FormatMAC(adv.MAC))
			continue
		}

		udp, ok := from.(*net.UDPAddr)
		if !ok {
			return Gateway{}, fmt.Errorf("session: discovery source %v is not udp", from)
		}
		gw := Gateway{
			Advertisement: adv,
			Addr:          &net.UDPAddr{IP: udp.IP, Port: ForwardingPort},
		}
		logger.Info("gateway found", "name", adv.NetBIOSName, "addr", gw.Addr, "mac", FormatMAC(adv.MAC))
		return gw, nil
	}
	return Gateway{}, ErrNoGateway
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
