// Package socket is the reference Transport adapter (spec §6): a
// length-prefixed frame codec running over a Unix domain socket,
// grounded on the teacher's accept-loop-plus-conn-pool shape used by
// its HTTP transport listeners, generalised from HTTP request/response
// framing down to a raw 4-byte-length-prefix wire format since this
// transport carries opaque CBOR, not HTTP.
package socket

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/cmn/log"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/transport"
)

const maxFrameLen = 16 << 20 // 16MiB, generous for a CBOR-encoded RPTSET/EXECSET

// Socket is a single accepted Unix-domain connection treated as one
// Transport: frames are serialized as a big-endian uint32 length
// followed by that many bytes of payload.
type Socket struct {
	conn net.Conn
	peer string

	wmu sync.Mutex
	rmu sync.Mutex
}

// NewSocket wraps an already-accepted connection.
func NewSocket(conn net.Conn) *Socket {
	return &Socket{conn: conn, peer: conn.RemoteAddr().String()}
}

func (s *Socket) Send(ctx context.Context, f transport.Frame) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if len(f.Payload) > maxFrameLen {
		return errors.Errorf("socket: frame of %d bytes exceeds the %d byte limit", len(f.Payload), maxFrameLen)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(f.Payload)))
	if _, err := s.conn.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "socket: writing frame header")
	}
	if _, err := s.conn.Write(f.Payload); err != nil {
		return errors.Wrap(err, "socket: writing frame payload")
	}
	return nil
}

func (s *Socket) Recv(ctx context.Context) (transport.Frame, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(dl)
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()
	var hdr [4]byte
	if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
		return transport.Frame{}, errors.Wrap(err, "socket: reading frame header")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return transport.Frame{}, errors.Errorf("socket: peer announced a %d byte frame, over the %d byte limit", n, maxFrameLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return transport.Frame{}, errors.Wrap(err, "socket: reading frame payload")
	}
	return transport.Frame{Peer: s.peer, Payload: buf}, nil
}

func (s *Socket) Close() error { return s.conn.Close() }

// Listener accepts connections on a Unix domain socket path and hands
// each one to a handler as a Transport, the way the teacher's proxy
// runs one accept loop per listening address.
type Listener struct {
	ln net.Listener
}

// Listen binds path, removing any stale socket file left behind by a
// previous, uncleanly-terminated run.
func Listen(path string) (*Listener, error) {
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		_ = os.Remove(path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "socket: listening on %s", path)
	}
	return &Listener{ln: ln}, nil
}

// Serve accepts connections until ctx is cancelled, calling handle for
// each new connection in its own goroutine.
func (l *Listener) Serve(ctx context.Context, handle func(*Socket)) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			log.Errorf("socket: accept failed: %v", err)
			return errors.Wrap(err, "socket: accept")
		}
		go handle(NewSocket(conn))
	}
}

func (l *Listener) Close() error { return l.ln.Close() }
