package handoff

import (
	"context"
	"io"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Broker creates the workload listening socket and hands duplicates of its
// file descriptor to receivers over the control channel. The broker never
// serves workload traffic itself: its acceptor exists only to reject
// connections that arrive before the first receiver is wired.
type Broker struct {
	workload net.Listener
	control  *net.UnixListener
	dup      *os.File
	desc     Description
	log      *zap.Logger

	// retire runs once, when the first handoff makes the defensive
	// acceptor unnecessary.
	retire sync.Once
}

// NewBroker binds the workload and control endpoints. The control endpoint
// must be unix: file descriptors only travel over AF_UNIX.
func NewBroker(workloadEndpoint, controlEndpoint string, log *zap.Logger) (*Broker, error) {
	network, address, err := ParseEndpoint(workloadEndpoint)
	if err != nil {
		return nil, err
	}
	workload, err := net.Listen(network, address)
	if err != nil {
		return nil, errors.Wrap(err, "handoff: listen on workload endpoint")
	}
	if uln, ok := workload.(*net.UnixListener); ok {
		// The listen queue outlives this listener through the duplicate
		// below; keep the socket path in place when the original closes.
		uln.SetUnlinkOnClose(false)
	}

	filer, ok := workload.(interface{ File() (*os.File, error) })
	if !ok {
		workload.Close()
		return nil, errors.Errorf("handoff: %s listener cannot expose its file descriptor", network)
	}
	netDup, err := filer.File()
	if err != nil {
		workload.Close()
		return nil, errors.Wrap(err, "handoff: duplicate listen descriptor")
	}
	// Fd on a file obtained from net switches the shared descriptor to
	// blocking mode, which would strand the workload accept in the kernel
	// where Close cannot reach it. Keep a plain duplicate instead, restored
	// to non-blocking, whose Fd leaves the mode alone.
	dupFD, err := unix.FcntlInt(netDup.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err == nil {
		err = unix.SetNonblock(dupFD, true)
	}
	netDup.Close()
	if err != nil {
		workload.Close()
		return nil, errors.Wrap(err, "handoff: duplicate listen descriptor")
	}
	dup := os.NewFile(uintptr(dupFD), netDup.Name())

	desc, err := DescribeSocket(int(dup.Fd()))
	if err != nil {
		dup.Close()
		workload.Close()
		return nil, err
	}

	cnetwork, caddress, err := ParseEndpoint(controlEndpoint)
	if err == nil && cnetwork != "unix" {
		err = errors.Errorf("handoff: control endpoint %q is not unix", controlEndpoint)
	}
	if err != nil {
		dup.Close()
		workload.Close()
		return nil, err
	}
	control, err := net.Listen("unix", caddress)
	if err != nil {
		dup.Close()
		workload.Close()
		return nil, errors.Wrap(err, "handoff: listen on control endpoint")
	}

	return &Broker{
		workload: workload,
		control:  control.(*net.UnixListener),
		dup:      dup,
		desc:     desc,
		log:      log,
	}, nil
}

// Description returns the workload socket's description as sent to
// receivers.
func (b *Broker) Description() Description { return b.desc }

// WorkloadAddr returns the address of the workload endpoint.
func (b *Broker) WorkloadAddr() net.Addr { return b.workload.Addr() }

// ControlAddr returns the address of the control endpoint.
func (b *Broker) ControlAddr() net.Addr { return b.control.Addr() }

// Serve runs the defensive workload acceptor and the control channel until
// ctx is done or the control listener fails. Control-channel conversations
// are independent and proceed concurrently.
func (b *Broker) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Cancellation, or either loop failing, closes both listeners so the
	// other loop's blocked accept returns.
	stop := context.AfterFunc(gctx, func() {
		b.workload.Close()
		b.control.Close()
	})
	defer stop()

	g.Go(b.rejectStray)
	g.Go(b.serveControl)
	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close releases the broker's listeners and its duplicate of the listen
// descriptor.
func (b *Broker) Close() error {
	b.workload.Close()
	b.control.Close()
	return b.dup.Close()
}

// rejectStray accepts on the workload endpoint only until the first handoff
// retires it, logging and dropping anything that connects before a receiver
// is wired.
func (b *Broker) rejectStray() error {
	for {
		conn, err := b.workload.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "handoff: workload accept")
		}
		b.log.Warn("rejecting incoming connection",
			zap.String("address", conn.RemoteAddr().String()))
		conn.Close()
	}
}

func (b *Broker) serveControl() error {
	for {
		conn, err := b.control.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "handoff: control accept")
		}
		go b.handleControl(conn)
	}
}

// handleControl waits for the READY byte, then writes the description bytes
// and the duplicated listen descriptor in one message, and closes the
// connection. Anything the receiver sends after READY is discarded with the
// close.
func (b *Broker) handleControl(conn *net.UnixConn) {
	defer conn.Close()

	if err := awaitReady(conn); err != nil {
		b.log.Error("control channel read", zap.Error(err))
		return
	}

	payload, err := b.desc.MarshalBinary()
	if err != nil {
		b.log.Error("describing listen socket", zap.Error(err))
		return
	}
	rights := unix.UnixRights(int(b.dup.Fd()))
	if _, _, err := conn.WriteMsgUnix(payload, rights, nil); err != nil {
		b.log.Error("sending listen socket", zap.Error(err))
		return
	}

	b.log.Info("listen socket handed off",
		zap.Int32("family", b.desc.Family),
		zap.Int32("type", b.desc.Type),
		zap.Int32("proto", b.desc.Protocol))
	b.retire.Do(b.retireWorkloadAcceptor)
}

// awaitReady consumes bytes until the READY token arrives.
func awaitReady(conn *net.UnixConn) error {
	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			return errors.Wrap(err, "handoff: await ready")
		}
		if buf[0] == ReadyByte {
			return nil
		}
	}
}

// retireWorkloadAcceptor closes the broker's own listener once a receiver
// is live, so the broker can never win an accept race against it. The
// duplicated descriptor keeps the kernel listen queue open for later
// handoffs.
func (b *Broker) retireWorkloadAcceptor() {
	b.workload.Close()
}
