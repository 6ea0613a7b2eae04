//go:build !linux

package gopher

import "github.com/marmos91/gopherd/internal/reactor"

func listenTCP(port, backlog int) (int, int, error) { return -1, 0, reactor.ErrUnsupported }
func acceptConn(lfd int) (int, string, error)      { return -1, "", reactor.ErrUnsupported }
func readFd(fd int, p []byte) (int, error)         { return 0, reactor.ErrUnsupported }
func writeFd(fd int, p []byte) (int, error)        { return 0, reactor.ErrUnsupported }
func closeFd(fd int) error                         { return nil }
func wouldBlock(err error) bool                    { return false }
