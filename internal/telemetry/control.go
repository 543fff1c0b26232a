package telemetry

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"

	"github.com/flowprobe/fprobe/internal/log"
)

// ControlMagic is the 4-byte request magic for the control-plane stats
// socket.
const ControlMagic uint32 = 0xBEEFFEEB

// replyHeaderLen is magic(4) + size(4) + n_inputs(4) + n_outputs(4).
const replyHeaderLen = 16

// statsRecordLen is one WorkerStats entry's wire size: name is fixed to 32
// bytes (truncated/zero-padded), followed by seven uint64/int64 fields.
const nameFieldLen = 32
const statsRecordLen = nameFieldLen + 7*8

// ControlServer answers stats queries over a Unix datagram socket, adapted
// from internal/command/uds_server.go's Start/Stop lifecycle with
// net.ListenPacket("unixgram", ...) in place of net.Listen("unix", ...).
type ControlServer struct {
	socketPath string
	registry   *Registry
	logger     log.Logger

	conn net.PacketConn
}

func NewControlServer(socketPath string, registry *Registry, logger log.Logger) *ControlServer {
	return &ControlServer{socketPath: socketPath, registry: registry, logger: logger}
}

// Start opens the datagram socket and serves requests until ctx is
// cancelled.
func (s *ControlServer) Start(ctx context.Context) error {
	_ = os.RemoveAll(s.socketPath)

	conn, err := net.ListenPacket("unixgram", s.socketPath)
	if err != nil {
		return fmt.Errorf("telemetry: listen %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		conn.Close()
		return fmt.Errorf("telemetry: chmod socket: %w", err)
	}
	s.conn = conn

	if s.logger != nil {
		s.logger.Infof("control-plane socket listening on %s", s.socketPath)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
		os.RemoveAll(s.socketPath)
	}()

	buf := make([]byte, 4)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return nil // listener closed, e.g. by ctx cancellation above
		}
		if n != 4 || binary.BigEndian.Uint32(buf) != ControlMagic {
			continue
		}
		reply := s.buildReply()
		if _, err := conn.WriteTo(reply, addr); err != nil && s.logger != nil {
			s.logger.WithError(err).Warn("telemetry: control reply write failed")
		}
	}
}

func (s *ControlServer) buildReply() []byte {
	stats := s.registry.Snapshot()
	// Every worker is both an "input" and conceptually paired with its own
	// output ring; inputs and outputs are reported as the same count since
	// this rewrite pairs them 1:1 per partition (internal/workers.Pipeline).
	n := len(stats)

	out := make([]byte, replyHeaderLen+2*n*statsRecordLen)
	binary.BigEndian.PutUint32(out[0:4], ControlMagic)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(out)))
	binary.BigEndian.PutUint32(out[8:12], uint32(n))
	binary.BigEndian.PutUint32(out[12:16], uint32(n))

	off := replyHeaderLen
	for _, w := range stats {
		off = encodeStats(out, off, w)
	}
	for _, w := range stats {
		off = encodeStats(out, off, w)
	}
	return out
}

func encodeStats(buf []byte, off int, w *WorkerStats) int {
	var name [nameFieldLen]byte
	copy(name[:], w.Name)
	copy(buf[off:off+nameFieldLen], name[:])
	off += nameFieldLen

	binary.BigEndian.PutUint64(buf[off:], w.PacketsIn)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(w.FlowsActive))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], w.FlowsExported)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], w.CacheHits)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], w.CacheMisses)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(w.RingLen))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(w.RingCap))
	off += 8
	return off
}

func (s *ControlServer) Stop() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
