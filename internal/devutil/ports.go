// Package devutil holds small helpers for local setups.
package devutil

import (
	"errors"
	"net"
	"strconv"
)

// PickFreePort returns preferred when it can be bound on localhost, or an
// OS-assigned free port otherwise. The daemon uses it when the configured
// listen port is 0.
func PickFreePort(preferred int) (int, error) {
	if preferred > 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(preferred)))
		if err == nil {
			_ = ln.Close()
			return preferred, nil
		}
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("unexpected addr type")
	}
	return addr.Port, nil
}
