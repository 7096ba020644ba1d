/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package acceptor

import (
	"net"
	"strings"

	"go.osspkg.com/errors"
)

// resolveListenAddr normalizes the address shorthands a Config author
// types by hand (bare host, bare port, "host:", IPv6 brackets, unix
// socket paths) into a host:port New can pass straight to sock.Listen. A
// missing port is filled by binding an ephemeral one and reading it back.
func resolveListenAddr(address string) string {
	var host, port string

	switch {
	case len(address) == 0:
		host = "127.0.0.1"

	case isValidIP(address):
		host = address

	case address[0] == '[':
		if index := strings.IndexByte(address, ']'); index != -1 {
			host = address[1:index]
			port = address[index+1:]
			if len(port) > 1 && port[0] == ':' {
				port = port[1:]
			}
		}
		if !isValidIP(host) {
			host = "::1"
		}

	case strings.Count(address, ":") > 1:
		host = address
		if !isValidIP(host) {
			host = "::1"
		}

	case strings.Count(address, ":") == 1:
		index := strings.IndexByte(address, ':')
		host = address[0:index]
		port = address[index+1:]
		if len(port) > 1 && port[0] == ':' {
			port = port[1:]
		}

	default:
		host = address
	}

	if strings.Contains(host, "/") {
		return host
	}

	if len(host) == 0 {
		host = "0.0.0.0"
	}

	if ips, err := net.LookupIP(host); err == nil && len(ips) > 0 {
		host = ips[0].String()
	}

	if len(port) == 0 || port == ":" {
		if v, err := randomPort(host); err == nil {
			return v
		}
		port = "8080"
	}

	return net.JoinHostPort(host, port)
}

// randomPort binds an ephemeral TCP port on host and reads it back,
// closing the probe socket immediately so resolveListenAddr's caller can
// reuse the port number for its own listen.
func randomPort(host string) (string, error) {
	network := "tcp4"
	if strings.Contains(host, ":") {
		network = "tcp6"
	}

	hostPort := net.JoinHostPort(host, "0")
	addr, err := net.ResolveTCPAddr(network, hostPort)
	if err != nil {
		return hostPort, errors.Wrapf(err, "acceptor: resolve tcp address")
	}

	l, err := net.ListenTCP(network, addr)
	if err != nil {
		return hostPort, errors.Wrapf(err, "acceptor: resolve tcp address")
	}

	v := l.Addr().String()
	if err = l.Close(); err != nil {
		return hostPort, errors.Wrapf(err, "acceptor: resolve tcp address")
	}
	return v, nil
}

func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
