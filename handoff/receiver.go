package handoff

import (
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	scgi "github.com/rakshasa/go-scgi-handoff"
	"github.com/rakshasa/go-scgi-handoff/trace"
)

// Receiver serves SCGI requests from a listening socket obtained from a
// broker. One receiver handles one request at a time; run more receivers
// against the same broker to scale out, and the kernel will spread accepts
// across them.
type Receiver struct {
	ln   net.Listener
	desc Description
}

// ReceiverFromPath connects to the broker's control socket at path,
// performs the handoff, and returns a receiver wrapping the reconstituted
// listening socket.
func ReceiverFromPath(path string) (*Receiver, error) {
	act := trace.Begin("handoff", zap.String("path", path))
	r, err := receiverFromPath(path)
	if err != nil {
		act.Fail(err)
		return nil, err
	}
	act.Succeed(
		zap.Int32("family", r.desc.Family),
		zap.Int32("type", r.desc.Type),
		zap.Int32("proto", r.desc.Protocol))
	return r, nil
}

func receiverFromPath(path string) (*Receiver, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, errors.Wrap(err, "handoff: dial control socket")
	}
	defer scgi.ShutdownClose(conn)
	return receiverFromControl(conn)
}

// receiverFromControl sends the READY byte and reads back the socket
// description with the SCM_RIGHTS record carrying the listen descriptor.
//
// Ancillary data interrupts MSG_WAITALL, so the receive is split into two
// syscalls: one recvmsg for the first payload byte plus the control
// message, then a full read of the remaining description bytes.
func receiverFromControl(conn *net.UnixConn) (*Receiver, error) {
	if _, err := conn.Write([]byte{ReadyByte}); err != nil {
		return nil, errors.Wrap(err, "handoff: send ready")
	}

	payload := make([]byte, DescriptionLength)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := conn.ReadMsgUnix(payload[:1], oob)
	if err != nil {
		return nil, errors.Wrap(err, "handoff: receive description")
	}
	if n != 1 {
		return nil, errors.Wrap(ErrShortDescription, "empty control payload")
	}
	if _, err := io.ReadFull(conn, payload[1:]); err != nil {
		return nil, errors.Wrapf(ErrShortDescription, "reading description tail: %v", err)
	}

	fd, err := listenFDFromOOB(oob[:oobn])
	if err != nil {
		return nil, err
	}

	var desc Description
	if err := desc.UnmarshalBinary(payload); err != nil {
		unix.Close(fd)
		return nil, err
	}

	ln, err := reconstituteListener(fd, desc)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Receiver{ln: ln, desc: desc}, nil
}

// listenFDFromOOB extracts the single file descriptor the broker attached.
// Anything other than one SCM_RIGHTS record with one descriptor aborts
// startup.
func listenFDFromOOB(oob []byte) (int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0, errors.Wrapf(ErrAncillary, "parsing control messages: %v", err)
	}
	if len(msgs) != 1 {
		return 0, errors.Wrapf(ErrAncillary, "%d control messages, need 1", len(msgs))
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return 0, errors.Wrapf(ErrAncillary, "parsing rights record: %v", err)
	}
	if len(fds) != 1 {
		return 0, errors.Wrapf(ErrAncillary, "%d file descriptors, need 1", len(fds))
	}
	return fds[0], nil
}

// reconstituteListener rebuilds a blocking listener around the received
// descriptor.
func reconstituteListener(fd int, desc Description) (net.Listener, error) {
	if err := unix.SetNonblock(fd, false); err != nil {
		return nil, errors.Wrap(err, "handoff: set blocking")
	}
	f := os.NewFile(uintptr(fd), "scgi-listener")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, errors.Wrapf(err, "handoff: reconstitute %d/%d/%d listener",
			desc.Family, desc.Type, desc.Protocol)
	}
	return ln, nil
}

// Description returns the socket description received from the broker.
func (r *Receiver) Description() Description { return r.desc }

// Addr returns the address of the reconstituted listening socket.
func (r *Receiver) Addr() net.Addr { return r.ln.Addr() }

// Close releases the receiver's copy of the listening socket.
func (r *Receiver) Close() error { return r.ln.Close() }

// Serve accepts connections and runs each request against app, one at a
// time: a request is processed to completion before the next accept. Parse
// failures and application errors are fatal only to their connection.
func (r *Receiver) Serve(app scgi.Application) error {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return errors.Wrap(err, "handoff: accept")
		}
		trace.Point("scgi_accepted")
		r.handle(conn, app)
	}
}

func (r *Receiver) handle(conn net.Conn, app scgi.Application) {
	defer scgi.ShutdownClose(conn)
	act := trace.Begin("scgi_request")
	if err := scgi.FromConn(conn).Run(app); err != nil {
		act.Fail(err)
		return
	}
	act.Succeed()
}
