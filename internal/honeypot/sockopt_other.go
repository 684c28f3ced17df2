//go:build !unix

package honeypot

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
