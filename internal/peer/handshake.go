package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/axonlab/axond/internal/identity"
	"github.com/axonlab/axond/internal/logging"
	"github.com/axonlab/axond/internal/metrics"
	"github.com/axonlab/axond/internal/protocol"
	"github.com/axonlab/axond/internal/secure"
)

// DefaultHandshakeTimeout bounds the whole handshake exchange.
const DefaultHandshakeTimeout = 10 * time.Second

var (
	// ErrVersionMismatch indicates the peer runs a protocol version below
	// the configured minimum.
	ErrVersionMismatch = errors.New("unsupported peer protocol version")

	// ErrUnexpectedPeer indicates the peer's declared identity does not
	// match the identity pinned for its address.
	ErrUnexpectedPeer = errors.New("peer identity does not match expected")

	// ErrPeerRejected indicates the peer reported a handshake failure.
	ErrPeerRejected = errors.New("peer rejected handshake")

	errHandshakeViolation = errors.New("handshake protocol violation")
)

// HandshakeConfig carries the local node's announcement and validation
// parameters.
type HandshakeConfig struct {
	LocalID      identity.NetworkID
	Name         string
	LayerSizes   []uint16
	Capabilities protocol.Capability

	// MinVersion is the lowest peer protocol version accepted. Zero
	// means the current version.
	MinVersion uint8

	Timeout time.Duration

	// Channel verifies peer certificates on secured transports. Nil
	// disables certificate-level identity and capability checks.
	Channel *secure.Channel

	// FallbackGrant is the capability grant applied to peers that
	// present no certificate grant. Normally empty, which restricts
	// such peers to session and control traffic.
	FallbackGrant protocol.Capability

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Handshaker negotiates NNP sessions on new connections.
type Handshaker struct {
	localID       identity.NetworkID
	name          string
	layerSizes    []uint16
	caps          protocol.Capability
	minVersion    uint8
	timeout       time.Duration
	channel       *secure.Channel
	fallbackGrant protocol.Capability
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// NewHandshaker creates a handshaker from cfg, applying defaults for
// timeout, minimum version and logger.
func NewHandshaker(cfg HandshakeConfig) *Handshaker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHandshakeTimeout
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = protocol.ProtocolVersion
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	return &Handshaker{
		localID:       cfg.LocalID,
		name:          displayName(cfg.Name),
		layerSizes:    cfg.LayerSizes,
		caps:          cfg.Capabilities,
		minVersion:    cfg.MinVersion,
		timeout:       cfg.Timeout,
		channel:       cfg.Channel,
		fallbackGrant: cfg.FallbackGrant,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

// HandshakeResult captures the negotiated session parameters.
type HandshakeResult struct {
	RemoteID   identity.NetworkID
	RemoteName string
	LayerSizes []uint16

	// DeclaredCaps is the peer's advertised set. RemoteCaps is what we
	// granted the peer, AcceptedCaps is what the peer granted us.
	DeclaredCaps protocol.Capability
	RemoteCaps   protocol.Capability
	AcceptedCaps protocol.Capability

	Secured  bool
	Identity *secure.PeerIdentity
}

// PerformHandshake runs the handshake on conn and, on success, moves the
// session to ESTABLISHED. The dialer speaks first. Both sides exchange a
// Handshake announcement and acknowledge the other's with the capability
// set they grant it. expectedID, when non-zero, pins the identity the
// peer must declare.
func (h *Handshaker) PerformHandshake(ctx context.Context, conn *Connection, expectedID identity.NetworkID) (*HandshakeResult, error) {
	start := time.Now()
	conn.advance(StateHandshaking)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	if err := conn.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}
	defer func() {
		_ = conn.conn.SetDeadline(time.Time{})
	}()

	var (
		res *HandshakeResult
		err error
	)
	if conn.isDialer {
		res, err = h.asDialer(ctx, conn, expectedID)
	} else {
		res, err = h.asListener(ctx, conn, expectedID)
	}
	if err != nil {
		if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}
		if h.metrics != nil {
			h.metrics.RecordHandshakeError(classifyHandshakeError(err))
		}
		return nil, err
	}

	conn.remoteID = res.RemoteID
	conn.remoteName = res.RemoteName
	conn.layerSizes = res.LayerSizes
	conn.declaredCaps = res.DeclaredCaps
	conn.remoteCaps = res.RemoteCaps
	conn.acceptedCaps = res.AcceptedCaps
	conn.secured = res.Secured
	conn.peerIdentity = res.Identity
	conn.advance(StateEstablished)
	conn.lastRecv.Store(time.Now().UnixNano())
	conn.markReady()

	if h.metrics != nil {
		h.metrics.RecordHandshake(time.Since(start).Seconds())
	}
	h.logger.Debug("handshake complete",
		logging.KeyPeer, res.RemoteID.ShortString(),
		logging.KeyPeerName, res.RemoteName,
		"granted", res.RemoteCaps.Names(),
		"accepted", res.AcceptedCaps.Names(),
		"secured", res.Secured,
		logging.KeyDuration, time.Since(start))
	return res, nil
}

// asDialer announces first, then validates the listener's ack and
// announcement before granting capabilities back.
func (h *Handshaker) asDialer(ctx context.Context, conn *Connection, expectedID identity.NetworkID) (*HandshakeResult, error) {
	grant, ident, secured, err := h.resolveGrant(ctx, conn)
	if err != nil {
		return nil, err
	}

	if err := conn.Send(h.announcement()); err != nil {
		return nil, err
	}

	ackMsg, err := h.readHandshakeMessage(conn, protocol.MsgHandshakeAck)
	if err != nil {
		return nil, err
	}
	ack := ackMsg.(*protocol.HandshakeAck)

	helloMsg, err := h.readHandshakeMessage(conn, protocol.MsgHandshake)
	if err != nil {
		return nil, err
	}
	theirs := helloMsg.(*protocol.Handshake)

	if !ack.NetworkID.Equal(theirs.NetworkID) {
		h.sendError(conn, protocol.ErrCodeProtocolViolation, "ack and handshake identities differ")
		return nil, fmt.Errorf("%w: ack from %s, announcement from %s",
			errHandshakeViolation, ack.NetworkID.ShortString(), theirs.NetworkID.ShortString())
	}
	if err := h.validateAnnouncement(conn, theirs, ident, expectedID); err != nil {
		return nil, err
	}

	granted := h.caps.Intersect(theirs.Capabilities).Intersect(grant)
	if err := conn.Send(&protocol.HandshakeAck{NetworkID: h.localID, AcceptedCapabilities: granted}); err != nil {
		return nil, err
	}

	return &HandshakeResult{
		RemoteID:     theirs.NetworkID,
		RemoteName:   displayName(theirs.Name),
		LayerSizes:   theirs.LayerSizes,
		DeclaredCaps: theirs.Capabilities,
		RemoteCaps:   granted,
		AcceptedCaps: ack.AcceptedCapabilities,
		Secured:      secured,
		Identity:     ident,
	}, nil
}

// asListener waits for the dialer's announcement, grants capabilities,
// announces itself and waits for the dialer's grant.
func (h *Handshaker) asListener(ctx context.Context, conn *Connection, expectedID identity.NetworkID) (*HandshakeResult, error) {
	grant, ident, secured, err := h.resolveGrant(ctx, conn)
	if err != nil {
		return nil, err
	}

	helloMsg, err := h.readHandshakeMessage(conn, protocol.MsgHandshake)
	if err != nil {
		return nil, err
	}
	theirs := helloMsg.(*protocol.Handshake)

	if err := h.validateAnnouncement(conn, theirs, ident, expectedID); err != nil {
		return nil, err
	}

	granted := h.caps.Intersect(theirs.Capabilities).Intersect(grant)
	if err := conn.Send(&protocol.HandshakeAck{NetworkID: h.localID, AcceptedCapabilities: granted}); err != nil {
		return nil, err
	}
	if err := conn.Send(h.announcement()); err != nil {
		return nil, err
	}

	ackMsg, err := h.readHandshakeMessage(conn, protocol.MsgHandshakeAck)
	if err != nil {
		return nil, err
	}
	ack := ackMsg.(*protocol.HandshakeAck)
	if !ack.NetworkID.Equal(theirs.NetworkID) {
		h.sendError(conn, protocol.ErrCodeProtocolViolation, "ack and handshake identities differ")
		return nil, fmt.Errorf("%w: ack from %s, announcement from %s",
			errHandshakeViolation, ack.NetworkID.ShortString(), theirs.NetworkID.ShortString())
	}

	return &HandshakeResult{
		RemoteID:     theirs.NetworkID,
		RemoteName:   displayName(theirs.Name),
		LayerSizes:   theirs.LayerSizes,
		DeclaredCaps: theirs.Capabilities,
		RemoteCaps:   granted,
		AcceptedCaps: ack.AcceptedCapabilities,
		Secured:      secured,
		Identity:     ident,
	}, nil
}

// displayName brings a peer-announced name into NFC form so equal names
// compare and render identically regardless of how the peer composed them.
func displayName(name string) string {
	return norm.NFC.String(name)
}

func (h *Handshaker) announcement() *protocol.Handshake {
	return &protocol.Handshake{
		NetworkID:       h.localID,
		Name:            h.name,
		LayerSizes:      h.layerSizes,
		Capabilities:    h.caps,
		ProtocolVersion: protocol.ProtocolVersion,
	}
}

// resolveGrant determines the capability ceiling for the peer. Secured
// connections take it from the verified certificate, plaintext ones get
// the configured fallback.
func (h *Handshaker) resolveGrant(ctx context.Context, conn *Connection) (protocol.Capability, *secure.PeerIdentity, bool, error) {
	state, ok := conn.conn.ConnectionState()
	if !ok || h.channel == nil {
		return h.fallbackGrant, nil, false, nil
	}
	ident, err := h.channel.VerifyPeer(ctx, state)
	if err != nil {
		h.sendError(conn, protocol.ErrCodeIdentityMismatch, "certificate verification failed")
		return 0, nil, true, err
	}
	return ident.EffectiveGrant(h.fallbackGrant), ident, true, nil
}

// validateAnnouncement applies version, certificate and pinning checks to
// the peer's Handshake. Failures are reported to the peer before the
// session dies.
func (h *Handshaker) validateAnnouncement(conn *Connection, theirs *protocol.Handshake, ident *secure.PeerIdentity, expectedID identity.NetworkID) error {
	if theirs.ProtocolVersion < h.minVersion {
		h.sendError(conn, protocol.ErrCodeUnsupportedVersion,
			fmt.Sprintf("version %d below minimum %d", theirs.ProtocolVersion, h.minVersion))
		return fmt.Errorf("%w: peer at version %d, minimum %d",
			ErrVersionMismatch, theirs.ProtocolVersion, h.minVersion)
	}
	if theirs.NetworkID.IsZero() {
		h.sendError(conn, protocol.ErrCodeProtocolViolation, "zero network identity")
		return fmt.Errorf("%w: zero network identity", errHandshakeViolation)
	}
	if theirs.NetworkID.Equal(h.localID) {
		h.sendError(conn, protocol.ErrCodeProtocolViolation, "peer declares this node's identity")
		return fmt.Errorf("%w: peer declares local identity %s",
			errHandshakeViolation, h.localID.ShortString())
	}
	if ident != nil {
		if err := ident.VerifyClaimedID(theirs.NetworkID); err != nil {
			h.sendError(conn, protocol.ErrCodeIdentityMismatch, "declared identity does not match certificate")
			return err
		}
	}
	if !expectedID.IsZero() && !theirs.NetworkID.Equal(expectedID) {
		h.sendError(conn, protocol.ErrCodeIdentityMismatch, "identity does not match pinned peer")
		return fmt.Errorf("%w: declared %s, pinned %s",
			ErrUnexpectedPeer, theirs.NetworkID.ShortString(), expectedID.ShortString())
	}
	return nil
}

// readHandshakeMessage reads frames until one of wantType arrives.
// Replayed frames are dropped, peer error reports are surfaced and any
// other message aborts the handshake.
func (h *Handshaker) readHandshakeMessage(conn *Connection, wantType uint8) (protocol.Message, error) {
	for {
		frame, err := conn.reader.Read()
		if err != nil {
			return nil, err
		}
		if conn.observeSequence(frame.Sequence) {
			h.logger.Warn("dropping replayed frame",
				logging.KeySequence, frame.Sequence,
				logging.KeyMsgType, protocol.MessageTypeName(frame.Type))
			if h.metrics != nil {
				h.metrics.RecordSequenceReplay()
			}
			continue
		}
		conn.noteReceived(protocol.HeaderSize + len(frame.Payload))
		if h.metrics != nil {
			h.metrics.RecordFrameReceived(protocol.MessageTypeName(frame.Type), protocol.HeaderSize+len(frame.Payload))
		}

		switch {
		case frame.Type == wantType:
			msg, err := protocol.DecodePayload(frame.Type, frame.Payload)
			if err != nil {
				h.sendError(conn, protocol.ErrCodeProtocolViolation, "malformed handshake payload")
				return nil, fmt.Errorf("%w: decode %s: %v",
					errHandshakeViolation, protocol.MessageTypeName(frame.Type), err)
			}
			return msg, nil

		case frame.Type == protocol.MsgError:
			msg, err := protocol.DecodePayload(frame.Type, frame.Payload)
			if err != nil {
				return nil, fmt.Errorf("%w: undecodable error report", ErrPeerRejected)
			}
			report := msg.(*protocol.ErrorMessage)
			return nil, fmt.Errorf("%w: code %d: %s", ErrPeerRejected, report.Code, report.Detail)

		case protocol.IsDataMessage(frame.Type):
			h.sendError(conn, protocol.ErrCodeProtocolViolation, "data before session establishment")
			return nil, fmt.Errorf("%w: %s before session establishment",
				errHandshakeViolation, protocol.MessageTypeName(frame.Type))

		default:
			h.sendError(conn, protocol.ErrCodeProtocolViolation, "unexpected message during handshake")
			return nil, fmt.Errorf("%w: unexpected %s",
				errHandshakeViolation, protocol.MessageTypeName(frame.Type))
		}
	}
}

// sendError reports a failure to the peer. Send errors are ignored, the
// session is about to close anyway.
func (h *Handshaker) sendError(conn *Connection, code uint16, detail string) {
	_ = conn.SendError(code, detail)
}

func classifyHandshakeError(err error) string {
	switch {
	case errors.Is(err, ErrHandshakeTimeout):
		return "timeout"
	case errors.Is(err, ErrVersionMismatch):
		return "version"
	case errors.Is(err, secure.ErrIdentityMismatch), errors.Is(err, ErrUnexpectedPeer):
		return "identity"
	case errors.Is(err, secure.ErrCertificateInvalid),
		errors.Is(err, secure.ErrCertificateExpired),
		errors.Is(err, secure.ErrHandshakeFailed),
		errors.Is(err, secure.ErrInsufficientCapabilities):
		return "certificate"
	case errors.Is(err, ErrPeerRejected):
		return "rejected"
	case errors.Is(err, errHandshakeViolation):
		return "protocol"
	default:
		return "io"
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
