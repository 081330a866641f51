// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ribbit

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/btcsuite/go-socks/socks"
	nerrors "github.com/shell-reserve/ngdp/errors"
)

// Dialer abstracts net.Dial so the Ribbit TCP protocol can be routed
// through a SOCKS proxy (matching the teacher's --proxy Tor-routing
// convention) or through a fake listener in tests.
type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

// netDialer is the default Dialer, a thin net.Dial wrapper with a connect
// timeout.
type netDialer struct {
	timeout time.Duration
}

func (d netDialer) Dial(network, addr string) (net.Conn, error) {
	return net.DialTimeout(network, addr, d.timeout)
}

// SocksDialer wraps a btcsuite/go-socks proxy for routing the TCP discovery
// protocol through a SOCKS5 proxy.
func SocksDialer(proxyAddr, username, password string) Dialer {
	return &socks.Proxy{
		Addr:     proxyAddr,
		Username: username,
		Password: password,
	}
}

func tcpCommand(product Product, ep Endpoint, version string) string {
	return fmt.Sprintf("%s/products/%s/%s\n", version, product, ep)
}

// fetchTCP dials {region}.version.battle.net:1119, sends the Ribbit command
// line, and reads the response until EOF. v2 commands return raw BPSV; v1
// commands return a MIME-wrapped, SHA-256-checksummed envelope that must be
// unwrapped by decodeV1Response.
func fetchTCP(dialer Dialer, region Region, product Product, ep Endpoint, version string) ([]byte, error) {
	addr := fmt.Sprintf("%s.version.battle.net:1119", region)
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeConnect, "ribbit.fetchTCP", err).WithHost(addr)
	}
	defer conn.Close()

	cmd := tcpCommand(product, ep, version)
	if _, err := conn.Write([]byte(cmd)); err != nil {
		return nil, nerrors.Wrap(nerrors.CodeConnect, "ribbit.fetchTCP", err).WithHost(addr)
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.CodeRead, "ribbit.fetchTCP", err).WithHost(addr)
	}

	if version == "v1" {
		data, _, derr := decodeV1Response(raw)
		if derr != nil {
			return nil, derr
		}
		return data, nil
	}
	return raw, nil
}
