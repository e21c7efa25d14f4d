package eip

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/yatesdr/cipscan/cip"
	"github.com/yatesdr/cipscan/ciperr"
	"github.com/yatesdr/cipscan/codec"
	"github.com/yatesdr/cipscan/logging"
)

// DefaultPort is the EtherNet/IP TCP port, 0xAF12.
const DefaultPort uint16 = 44818

// DefaultTransferBufferLimit bounds how many bytes of CIP_MultiRequest
// request/response the worker will pack into one transfer, matching the
// original ether_ip driver's default (ether_ip.c:1337).
const DefaultTransferBufferLimit = 500

// growthFloor is the minimum size a freshly allocated buffer starts at.
const growthFloor = 512

// Connection holds the socket lifecycle for one PLC: session id, timeout,
// and growable send/receive buffers (spec §4.5). At most one Connection
// per PLC is ever active (invariant I1); enforcing that is the scan
// worker's responsibility (package scan), not this type's.
type Connection struct {
	mu sync.Mutex

	address string
	port    uint16
	slot    byte
	timeout time.Duration

	conn    net.Conn
	session uint32

	sendBuf             []byte
	recvBuf             []byte
	TransferBufferLimit int

	Identity *Identity
}

// NewConnection constructs an unconnected Connection. Dial must be
// called before use.
func NewConnection(address string, port uint16, slot byte, timeout time.Duration) *Connection {
	if port == 0 {
		port = DefaultPort
	}
	return &Connection{
		address:             address,
		port:                port,
		slot:                slot,
		timeout:             timeout,
		TransferBufferLimit: DefaultTransferBufferLimit,
	}
}

// IsOpen reports whether the underlying socket is connected.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Dial performs the full open sequence of spec §4.5:
//  1. dial with a connect timeout,
//  2. ListServices, rejecting a controller that does not advertise CIP
//     PDU encapsulation support,
//  3. RegisterSession,
//  4. a best-effort, non-fatal identity read.
//
// On any failure through step 3 the socket is closed and a
// *ciperr.ConnectErr or *ciperr.HandshakeErr is returned.
func (c *Connection) Dial() error {
	c.mu.Lock()
	addr := net.JoinHostPort(c.address, itoa(c.port))
	timeout := c.timeout
	c.mu.Unlock()

	logging.DebugConnect("eip", addr)

	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		logging.DebugConnectError("eip", addr, err)
		return &ciperr.ConnectErr{Address: addr, Err: err}
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}

	c.mu.Lock()
	c.conn = conn
	c.session = 0
	c.mu.Unlock()

	services, err := c.ListServices()
	if err != nil {
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		logging.DebugError("eip", "ListServices", err)
		return &ciperr.HandshakeErr{Reason: "ListServices", Err: err}
	}
	if !SupportsCIP(services) {
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		err := &ciperr.HandshakeErr{Reason: "CIP PDU support missing"}
		logging.DebugError("eip", "ListServices", err)
		return err
	}

	session, err := c.registerSession()
	if err != nil {
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		logging.DebugError("eip", "RegisterSession", err)
		return &ciperr.HandshakeErr{Reason: "RegisterSession", Err: err}
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	logging.DebugConnectSuccess("eip", addr, "session registered")

	if ident, err := c.readIdentity(); err != nil {
		logging.DebugError("eip", "identity probe (non-fatal)", err)
	} else {
		c.mu.Lock()
		c.Identity = ident
		c.mu.Unlock()
	}

	return nil
}

// Close unregisters the session (best-effort) and closes the socket.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.session = 0
		return nil
	}
	if c.session != 0 {
		_ = c.unregisterSessionLocked()
	}
	err := c.conn.Close()
	c.conn = nil
	c.session = 0
	return err
}

func (c *Connection) registerSession() (uint32, error) {
	body := codec.PackU16(nil, 1) // protocol version
	body = codec.PackU16(body, 0) // options

	resp, err := c.transact(CmdRegisterSession, body)
	if err != nil {
		return 0, err
	}
	if resp.Status != 0 {
		return 0, &ciperr.HandshakeErr{Reason: "RegisterSession returned non-zero status"}
	}
	if resp.Session == 0 {
		return 0, &ciperr.HandshakeErr{Reason: "RegisterSession did not assign a session"}
	}
	return resp.Session, nil
}

func (c *Connection) unregisterSessionLocked() error {
	frame := NewRequestFrame(CmdUnRegisterSession, c.session, nil)
	_, err := c.conn.Write(frame.Marshal())
	return err
}

// ListServices issues the ListServices command and returns the parsed
// service entries; SupportsCIP reports whether any of them advertises CIP
// PDU encapsulation.
func (c *Connection) ListServices() ([]ServiceEntry, error) {
	resp, err := c.transact(CmdListServices, nil)
	if err != nil {
		return nil, err
	}
	entries, err := ParseListServicesPayload(resp.Payload)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SendRRData wraps mrRequest in a SendRRData frame, transacts it, and
// returns the embedded Message Router response bytes.
func (c *Connection) SendRRData(mrRequest []byte) ([]byte, error) {
	payload := BuildSendRRDataPayload(mrRequest, 0)
	resp, err := c.transact(CmdSendRRData, payload)
	if err != nil {
		return nil, err
	}
	if resp.Status != 0 {
		return nil, &ciperr.ProtocolErr{Reason: "SendRRData returned non-zero encapsulation status"}
	}
	return ParseSendRRDataPayload(resp.Payload)
}

// transact sends one frame and waits for the matching reply, applying a
// single deadline to the whole round trip (not per individual read).
func (c *Connection) transact(command uint16, payload []byte) (Frame, error) {
	c.mu.Lock()
	conn := c.conn
	session := c.session
	timeout := c.timeout
	c.mu.Unlock()

	if conn == nil {
		return Frame{}, &ciperr.ConnectErr{Address: c.address, Err: io.ErrClosedPipe}
	}

	deadline := time.Now().Add(timeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return Frame{}, &ciperr.TimeoutErr{Op: "SetWriteDeadline", Err: err}
	}

	req := NewRequestFrame(command, session, payload)

	c.mu.Lock()
	c.sendBuf = growBuffer(c.sendBuf, HeaderSize+len(payload))
	n := copy(c.sendBuf, req.Marshal())
	wire := c.sendBuf[:n]
	c.mu.Unlock()

	logging.DebugTX("eip", wire)
	if _, err := conn.Write(wire); err != nil {
		return Frame{}, &ciperr.TimeoutErr{Op: "write", Err: err}
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return Frame{}, &ciperr.TimeoutErr{Op: "SetReadDeadline", Err: err}
	}

	c.mu.Lock()
	c.recvBuf = growBuffer(c.recvBuf, HeaderSize)
	header := c.recvBuf
	c.mu.Unlock()

	if _, err := io.ReadFull(conn, header); err != nil {
		return Frame{}, &ciperr.TimeoutErr{Op: "read header", Err: err}
	}
	_, payloadLen, err := ParseHeader(header)
	if err != nil {
		return Frame{}, err
	}
	if payloadLen > 65511 {
		return Frame{}, &ciperr.ProtocolErr{Reason: "declared payload length exceeds sane maximum"}
	}

	c.mu.Lock()
	c.recvBuf = growBuffer(c.recvBuf, HeaderSize+int(payloadLen))
	full := c.recvBuf
	c.mu.Unlock()

	if payloadLen > 0 {
		if _, err := io.ReadFull(conn, full[HeaderSize:]); err != nil {
			return Frame{}, &ciperr.TimeoutErr{Op: "read payload", Err: err}
		}
	}
	logging.DebugRX("eip", full)

	frame, err := ParseFrame(full)
	if err != nil {
		return Frame{}, err
	}
	if frame.Command != command {
		return Frame{}, &ciperr.ProtocolErr{Reason: "reply command does not match request"}
	}
	if session != 0 && frame.Session != session {
		return Frame{}, &ciperr.ProtocolErr{Reason: "reply session does not match registered session"}
	}
	return frame, nil
}

// growBuffer grows buf to at least need bytes, by max(need, len(buf)),
// and never shrinks (spec §4.5). It returns the (possibly reused) slice.
func growBuffer(buf []byte, need int) []byte {
	if cap(buf) >= need {
		return buf[:need]
	}
	newCap := need
	if len(buf) > newCap {
		newCap = len(buf)
	}
	if newCap < growthFloor {
		newCap = growthFloor
	}
	out := make([]byte, need, newCap)
	copy(out, buf)
	return out
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Identity is the controller identity read (best-effort) after
// RegisterSession, per spec §4.5 step 4.
type Identity struct {
	VendorID     uint16
	DeviceType   uint16
	ProductCode  uint16
	RevisionMaj  byte
	RevisionMin  byte
	Status       uint16
	SerialNumber uint32
	ProductName  string
}

const (
	identityClass    = 0x01
	identityInstance = 0x01
)

// readIdentity issues Get_Attribute_All on the Identity object (class
// 0x01, instance 1) and parses vendor/device/product/revision/status/
// serial/name. Failures here are logged by the caller and do not
// prevent the session from operating.
func (c *Connection) readIdentity() (*Identity, error) {
	req := cip.MessageRouterRequest{
		Service: cip.SvcGetAttributeAll,
		Path:    cip.ClassInstance(identityClass, identityInstance),
	}
	respBytes, err := c.SendRRData(req.Marshal())
	if err != nil {
		return nil, err
	}
	resp, err := cip.ParseMessageRouterResponse(respBytes)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.AsError()
	}
	return parseIdentityAttributes(resp.Data)
}

// identityFormat is the fixed prefix of a Get_Attribute_All response on
// the Identity object: encapsulation version (skipped) | vendor |
// device type | product code | revision major | revision minor |
// status | serial number.
const identityFormat = "Iiiissid"

func parseIdentityAttributes(data []byte) (*Identity, error) {
	if len(data) < 16 {
		return nil, &ciperr.ProtocolErr{Reason: "identity attributes shorter than fixed fields"}
	}
	var vendor, deviceType, productCode, revMaj, revMin, status, serial uint32
	if err := codec.Unpack(identityFormat, data, &vendor, &deviceType, &productCode, &revMaj, &revMin, &status, &serial); err != nil {
		return nil, &ciperr.ProtocolErr{Reason: "identity attributes: " + err.Error()}
	}

	ident := &Identity{
		VendorID:     uint16(vendor),
		DeviceType:   uint16(deviceType),
		ProductCode:  uint16(productCode),
		RevisionMaj:  byte(revMaj),
		RevisionMin:  byte(revMin),
		Status:       uint16(status),
		SerialNumber: serial,
	}
	if len(data) > 16 {
		nameLen := int(data[16])
		if 17+nameLen <= len(data) {
			ident.ProductName = string(data[17 : 17+nameLen])
		}
	}
	return ident, nil
}
