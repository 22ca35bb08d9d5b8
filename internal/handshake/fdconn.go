package handshake

import "golang.org/x/sys/unix"

// FDConn adapts a raw file descriptor to io.Reader/io.Writer for use
// with Send/Recv. The handshake socket is kept in blocking mode
// throughout (only the Supervisor's signalfd is non-blocking), so a
// plain read after an epoll readiness notification always completes
// without EAGAIN, matching the original's TEMP_FAILURE_RETRY(read())
// calls.
type FDConn int

func (f FDConn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(int(f), p)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func (f FDConn) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(int(f), p)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// Close closes the underlying descriptor.
func (f FDConn) Close() error {
	return unix.Close(int(f))
}

// Fd returns the underlying descriptor, for use in epoll registration.
func (f FDConn) Fd() int {
	return int(f)
}
