package t2u

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// reactorTick is the coarse polling interval of the single-threaded reactor.
// spec.md §9 allows tens-of-milliseconds timer resolution; this is the
// granularity at which retransmit timers, session expiry, debug-bandwidth
// refill and non-blocking TCP/UDP polling all fire.
const reactorTick = 20 * time.Millisecond

// OptionValue pairs an Option with the value to apply at construction time,
// so a caller doesn't have to round-trip through SetOption for startup
// configuration.
type OptionValue struct {
	Opt   Option
	Value int
}

type addRuleReq struct {
	role     Role
	service  string
	addr     string
	port     uint16
	compress bool
	result   chan addRuleResult
}

type addRuleResult struct {
	rule *Rule
	err  error
}

type delRuleReq struct {
	rule   *Rule
	result chan error
}

type setOptionReq struct {
	opt    Option
	value  int
	result chan error
}

type debugDumpReq struct {
	w      io.Writer
	result chan error
}

type acceptedConn struct {
	rule *Rule
	conn net.Conn
}

type dialResult struct {
	rule            *Rule
	clientSessionID uint16
	conn            net.Conn
	err             error
}

type delayedPacket struct {
	fireAt time.Time
	buf    []byte
	addr   net.Addr
}

// Context is the reactor root described in spec.md §4.5: one borrowed UDP
// socket, one Rule Table, one Session Table, run by a single goroutine. It
// never closes the socket it was given; the host owns that lifetime.
type Context struct {
	conn net.PacketConn
	cfg  config

	rules         map[ruleKey]*Rule
	sessions      map[uint16]*Session
	peerIndex     map[uint16]*Session
	recentlyFreed map[uint16]time.Time
	nextID        uint16

	peerAddr atomic.Value // net.Addr

	chAddRule   chan addRuleReq
	chDelRule   chan delRuleReq
	chSetOption chan setOptionReq
	chDebugDump chan debugDumpReq
	chAccepted  chan acceptedConn
	chDialDone  chan dialResult

	die       chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	sendMu sync.Mutex
	fatal  bool

	snmp Snmp

	rng     *rand.Rand
	delayed []delayedPacket

	bucketTokens  float64
	bucketUpdated time.Time

	rxBuf [mtuCeiling]byte
	txBuf [mtuCeiling]byte
}

// NewContext starts a reactor goroutine bound to conn. peer is the initial
// remote address; pass nil either for an already-connected socket (e.g. the
// result of net.DialUDP, where the kernel supplies the destination) or for a
// listening socket whose peer isn't known yet (e.g. net.ListenUDP on the
// server side), in which case the reactor learns it from the first inbound
// datagram. This mirrors the original interface's assumption that a Context
// always has exactly one peer (spec.md's non-goals: no multi-peer
// multiplexing per Context).
func NewContext(conn net.PacketConn, peer net.Addr, opts ...OptionValue) (*Context, error) {
	if conn == nil {
		return nil, errors.New("t2u: nil socket")
	}
	ctx := &Context{
		conn:          conn,
		cfg:           defaultConfig(),
		rules:         make(map[ruleKey]*Rule),
		sessions:      make(map[uint16]*Session),
		peerIndex:     make(map[uint16]*Session),
		recentlyFreed: make(map[uint16]time.Time),
		chAddRule:     make(chan addRuleReq),
		chDelRule:     make(chan delRuleReq),
		chSetOption:   make(chan setOptionReq),
		chDebugDump:   make(chan debugDumpReq),
		chAccepted:    make(chan acceptedConn, 64),
		chDialDone:    make(chan dialResult, 64),
		die:           make(chan struct{}),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if peer != nil {
		ctx.peerAddr.Store(peer)
	}
	for _, o := range opts {
		if err := ctx.cfg.apply(o.Opt, o.Value); err != nil {
			return nil, err
		}
	}
	ctx.wg.Add(1)
	go ctx.run()
	return ctx, nil
}

// Close stops the reactor, closes every rule's listener and every session's
// local TCP socket, and waits for all background goroutines to exit. The
// UDP socket itself is left open for the host to dispose of.
func (ctx *Context) Close() error {
	ctx.closeOnce.Do(func() {
		close(ctx.die)
	})
	ctx.wg.Wait()
	return nil
}

// SetOption validates and applies value to opt, taking effect on the next
// reactor tick.
func (ctx *Context) SetOption(opt Option, value int) error {
	req := setOptionReq{opt: opt, value: value, result: make(chan error, 1)}
	select {
	case ctx.chSetOption <- req:
	case <-ctx.die:
		return ErrClosed
	}
	err := <-req.result
	if err != nil {
		emitError(ctx, nil, ErrValidation, err.Error())
	}
	return err
}

// AddRule registers a service on the Context. For RoleClient it binds a
// local TCP listener immediately; for RoleServer it only remembers the
// dial target, connecting on demand when a peer CONNECT names the service.
func (ctx *Context) AddRule(role Role, service, addr string, port uint16, compress bool) (*Rule, error) {
	if len(service) == 0 || len(service) > MaxServiceNameLength {
		emitError(ctx, nil, ErrValidation, ErrInvalidService.Error()+": "+service)
		return nil, ErrInvalidService
	}
	req := addRuleReq{role: role, service: service, addr: addr, port: port, compress: compress, result: make(chan addRuleResult, 1)}
	select {
	case ctx.chAddRule <- req:
	case <-ctx.die:
		return nil, ErrClosed
	}
	res := <-req.result
	return res.rule, res.err
}

// ForwardSend writes a caller-supplied payload directly on the Context's
// UDP socket, serialized against the reactor's own writes by the same
// mutex, but otherwise outside the protocol: no header, no window, no
// retry. Intended for host-level signalling (e.g. NAT keepalives) that
// rides the same hole-punched socket.
func (ctx *Context) ForwardSend(b []byte) (int, error) {
	addr, _ := ctx.peerAddr.Load().(net.Addr)
	ctx.sendMu.Lock()
	defer ctx.sendMu.Unlock()
	if c, ok := ctx.conn.(net.Conn); ok && c.RemoteAddr() != nil {
		return c.Write(b)
	}
	if addr != nil {
		return ctx.conn.WriteTo(b, addr)
	}
	return 0, errors.New("t2u: no peer address known")
}

// WriteDebugDump renders a snapshot of every rule and session to w.
func (ctx *Context) WriteDebugDump(w io.Writer) error {
	req := debugDumpReq{w: w, result: make(chan error, 1)}
	select {
	case ctx.chDebugDump <- req:
	case <-ctx.die:
		return ErrClosed
	}
	return <-req.result
}

// Snmp returns the Context's running counters.
func (ctx *Context) Snmp() *Snmp { return &ctx.snmp }

// ---- reactor goroutine ----

func (ctx *Context) run() {
	defer ctx.wg.Done()
	ticker := time.NewTicker(reactorTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.die:
			ctx.teardown()
			return
		case req := <-ctx.chAddRule:
			rule, err := ctx.doAddRule(req)
			req.result <- addRuleResult{rule: rule, err: err}
		case req := <-ctx.chDelRule:
			req.result <- ctx.doDelRule(req.rule)
		case req := <-ctx.chSetOption:
			req.result <- ctx.cfg.apply(req.opt, req.value)
		case req := <-ctx.chDebugDump:
			req.result <- ctx.doDebugDump(req.w)
		case ac := <-ctx.chAccepted:
			ctx.onAccepted(ac.rule, ac.conn)
		case dr := <-ctx.chDialDone:
			ctx.onDialResult(dr)
		case now := <-ticker.C:
			ctx.tick(now)
		}
	}
}

func (ctx *Context) teardown() {
	for _, rule := range ctx.rules {
		if rule.listener != nil {
			rule.listener.Close()
		}
	}
	for _, sess := range ctx.sessions {
		if sess.conn != nil {
			sess.conn.Close()
		}
	}
}

func (ctx *Context) tick(now time.Time) {
	if !ctx.fatal {
		ctx.pollUDP(now)
	}
	for _, sess := range ctx.sessions {
		switch sess.state {
		case stateConnecting:
			ctx.pumpConnecting(sess, now)
		case stateEstablished, stateClosing:
			ctx.pumpDataSession(sess, now)
		}
	}
	ctx.flushDelayed(now)
	ctx.reapRecentlyFreed(now)
}

// ---- rule management ----

func (ctx *Context) doAddRule(req addRuleReq) (*Rule, error) {
	key := ruleKey{req.role, req.service}
	if _, exists := ctx.rules[key]; exists {
		emitError(ctx, nil, ErrValidation, ErrDuplicateRule.Error()+": "+req.service)
		return nil, ErrDuplicateRule
	}
	rule := &Rule{
		ctx:      ctx,
		role:     req.role,
		service:  req.service,
		addr:     req.addr,
		port:     req.port,
		compress: req.compress,
		sessions: make(map[uint16]*Session),
	}
	if req.role == RoleClient {
		ln, err := net.Listen("tcp", net.JoinHostPort(req.addr, fmt.Sprint(req.port)))
		if err != nil {
			emitError(ctx, nil, ErrResource, "bind failed: "+err.Error())
			return nil, errors.Wrap(err, "t2u: bind")
		}
		rule.listener = ln
		ctx.wg.Add(1)
		go ctx.acceptLoop(rule)
	}
	ctx.rules[key] = rule
	return rule, nil
}

func (ctx *Context) doDelRule(rule *Rule) error {
	if rule == nil {
		return nil
	}
	key := ruleKey{rule.role, rule.service}
	if _, ok := ctx.rules[key]; !ok {
		return nil
	}
	delete(ctx.rules, key)
	rule.removed = true
	if rule.listener != nil {
		rule.listener.Close()
	}
	now := time.Now()
	for _, sess := range rule.sessions {
		sess.removing = true
		ctx.beginClose(sess, now)
	}
	return nil
}

func (ctx *Context) acceptLoop(rule *Rule) {
	defer ctx.wg.Done()
	for {
		conn, err := rule.listener.Accept()
		if err != nil {
			return
		}
		select {
		case ctx.chAccepted <- acceptedConn{rule: rule, conn: conn}:
		case <-ctx.die:
			conn.Close()
			return
		}
	}
}

func (ctx *Context) onAccepted(rule *Rule, conn net.Conn) {
	if rule.removed {
		conn.Close()
		return
	}
	now := time.Now()
	id := ctx.allocSessionID(now)
	if id == 0 {
		emitError(ctx, rule, ErrResource, "session id space exhausted")
		conn.Close()
		return
	}
	sess := newSession(ctx, id, rule)
	sess.bindConn(conn, rule.compress)
	sess.state = stateConnecting
	sess.connectSentAt = now
	sess.lastActivity = now
	ctx.sessions[id] = sess
	rule.sessions[id] = sess
	ctx.sendConnect(sess)
}

func (ctx *Context) onDialResult(dr dialResult) {
	sess, ok := ctx.sessions[dr.clientSessionID]
	if !ok || sess.rule != dr.rule {
		if dr.conn != nil {
			dr.conn.Close()
		}
		return
	}
	now := time.Now()
	sess.awaitingDial = false
	if dr.err != nil {
		ctx.sendConnectFail(0, sess.peerID, ReasonConnectRefused)
		emitError(ctx, sess.rule, ErrResource, "tcp connect failed: "+dr.err.Error())
		ctx.destroySession(sess, now, stateFailed)
		return
	}
	sess.bindConn(dr.conn, sess.rule.compress)
	sess.state = stateEstablished
	sess.lastActivity = now
	ctx.snmp.sessionOpened()
	ctx.sendConnectAck(sess)
}

// ---- packet dispatch ----

func (ctx *Context) pollUDP(now time.Time) {
	for {
		// A deadline already in the past fails the read without attempting
		// it, so each poll gets a short deadline just ahead of the clock.
		ctx.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, addr, err := ctx.conn.ReadFrom(ctx.rxBuf[:])
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			ctx.handleFatal(err)
			return
		}
		ctx.peerAddr.Store(addr)
		pkt, derr := Decode(ctx.rxBuf[:n])
		if derr != nil {
			atomic.AddUint64(&ctx.snmp.MalformedPackets, 1)
			raw := append([]byte(nil), ctx.rxBuf[:n]...)
			emitUnknown(ctx, raw)
			continue
		}
		ctx.dispatch(pkt, now)
	}
}

func (ctx *Context) dispatch(pkt *Packet, now time.Time) {
	switch pkt.Type {
	case PacketConnect:
		ctx.handleConnect(pkt, now)
	case PacketConnectAck:
		ctx.handleConnectAck(pkt, now)
	case PacketConnectFail:
		ctx.handleConnectFail(pkt, now)
	case PacketData:
		ctx.handleData(pkt, now)
	case PacketAck:
		ctx.handleAck(pkt, now)
	case PacketClose:
		ctx.handleClosePacket(pkt, now)
	case PacketPing:
		ctx.handlePing(pkt, now)
	}
}

func (ctx *Context) handleConnect(pkt *Packet, now time.Time) {
	if sess, ok := ctx.peerIndex[pkt.SessionID]; ok {
		if sess.state == stateEstablished {
			ctx.sendConnectAck(sess)
		}
		return
	}
	service := string(pkt.Payload)
	rule, ok := ctx.rules[ruleKey{RoleServer, service}]
	if !ok {
		// Protocol-class: the CONNECT_FAIL this sends back to the peer
		// drives its own error_cb firing once the peer's CONNECT_FAIL
		// handler runs; no error_cb on this side.
		ctx.sendConnectFail(0, pkt.SessionID, ReasonUnknownService)
		emitLog(LogWarn, "rejected CONNECT for unknown service %q", service)
		return
	}
	id := ctx.allocSessionID(now)
	if id == 0 {
		ctx.sendConnectFail(0, pkt.SessionID, ReasonConnectRefused)
		return
	}
	sess := newSession(ctx, id, rule)
	sess.peerID = pkt.SessionID
	sess.awaitingDial = true
	sess.lastActivity = now
	ctx.sessions[id] = sess
	ctx.peerIndex[pkt.SessionID] = sess
	rule.sessions[id] = sess

	target := net.JoinHostPort(rule.addr, fmt.Sprint(rule.port))
	dialTimeout := ctx.cfg.udpTimeout * time.Duration(ctx.cfg.udpRetries+1)
	ctx.wg.Add(1)
	go func() {
		defer ctx.wg.Done()
		conn, err := net.DialTimeout("tcp", target, dialTimeout)
		res := dialResult{rule: rule, clientSessionID: id, conn: conn, err: err}
		select {
		case ctx.chDialDone <- res:
		case <-ctx.die:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (ctx *Context) handleConnectAck(pkt *Packet, now time.Time) {
	sess, ok := ctx.sessions[pkt.PeerSessionID]
	if !ok || sess.state != stateConnecting {
		return
	}
	sess.peerID = pkt.SessionID
	sess.state = stateEstablished
	sess.lastActivity = now
	ctx.peerIndex[pkt.SessionID] = sess
	ctx.snmp.sessionOpened()
	emitLog(LogInfo, "session %d established (service=%s)", sess.id, sess.rule.service)
}

func (ctx *Context) handleConnectFail(pkt *Packet, now time.Time) {
	sess, ok := ctx.sessions[pkt.PeerSessionID]
	if !ok || sess.state != stateConnecting {
		return
	}
	var reason byte
	if len(pkt.Payload) == 1 {
		reason = pkt.Payload[0]
	}
	emitError(ctx, sess.rule, ErrTransport, connectFailMessage(reason))
	ctx.destroySession(sess, now, stateFailed)
}

func (ctx *Context) handleData(pkt *Packet, now time.Time) {
	sess, ok := ctx.sessions[pkt.PeerSessionID]
	if !ok {
		ctx.sendCloseRaw(pkt.PeerSessionID, pkt.SessionID)
		return
	}
	if sess.state == stateFailed || sess.state == stateClosed || sess.awaitingDial {
		return
	}
	sess.lastActivity = now
	out := sess.recvWin.receive(pkt.Sequence, pkt.Payload)
	if out.shouldDrop {
		atomic.AddUint64(&ctx.snmp.DroppedPackets, 1)
		return
	}
	for _, b := range out.deliver {
		sess.pendingOut = append(sess.pendingOut, b...)
		atomic.AddUint64(&ctx.snmp.BytesReceived, uint64(len(b)))
	}
	if out.shouldAck {
		ctx.sendAck(sess, out.ackSeq)
	}
	ctx.flushSessionToTCP(sess, now)
}

func (ctx *Context) handleAck(pkt *Packet, now time.Time) {
	sess, ok := ctx.sessions[pkt.PeerSessionID]
	if !ok || (sess.state != stateEstablished && sess.state != stateClosing) {
		return
	}
	if removed := sess.sendWin.ackUpTo(pkt.Sequence); removed > 0 {
		atomic.AddUint64(&ctx.snmp.SegmentsAcked, uint64(removed))
		sess.lastActivity = now
	}
}

func (ctx *Context) handleClosePacket(pkt *Packet, now time.Time) {
	sess, ok := ctx.sessions[pkt.PeerSessionID]
	if !ok {
		return
	}
	sess.lastActivity = now
	sess.closeRecv = true
	if sess.state == stateEstablished {
		sess.state = stateClosing
	}
	ctx.tryFinalizeClosing(sess, now)
}

func (ctx *Context) handlePing(pkt *Packet, now time.Time) {
	sess, ok := ctx.sessions[pkt.PeerSessionID]
	if !ok {
		return
	}
	sess.lastActivity = now
	ctx.sendAck(sess, sess.recvWin.lastAck())
}

// ---- per-tick session work ----

func (ctx *Context) pumpConnecting(sess *Session, now time.Time) {
	if now.Sub(sess.connectSentAt) < ctx.cfg.udpTimeout {
		return
	}
	if sess.connectRetries >= ctx.cfg.udpRetries {
		emitError(ctx, sess.rule, ErrTransport, ErrRetryExhausted.Error())
		ctx.destroySession(sess, now, stateFailed)
		return
	}
	sess.connectRetries++
	sess.connectSentAt = now
	ctx.sendConnect(sess)
	atomic.AddUint64(&ctx.snmp.Retransmits, 1)
}

func (ctx *Context) pumpDataSession(sess *Session, now time.Time) {
	ctx.readFromTCP(sess, now)

	sess.sendWin.forEachExpired(now, ctx.cfg.udpTimeout, func(seq uint32, payload []byte, retries int) {
		ctx.sendDataRaw(sess, seq, payload)
		atomic.AddUint64(&ctx.snmp.Retransmits, 1)
	})
	if mr := sess.sendWin.maxRetries(); mr > ctx.cfg.udpRetries {
		emitError(ctx, sess.rule, ErrTransport, ErrRetryExhausted.Error())
		ctx.destroySession(sess, now, stateFailed)
		return
	}

	ctx.flushSessionToTCP(sess, now)

	if sess.state == stateEstablished {
		if now.Sub(sess.lastSent) >= ctx.cfg.sessionTimeout/3 {
			ctx.sendPing(sess)
		}
		if now.Sub(sess.lastActivity) >= ctx.cfg.sessionTimeout {
			emitLog(LogWarn, "session %d idle timeout", sess.id)
			ctx.beginClose(sess, now)
		}
	}

	if sess.state == stateClosing {
		ctx.tryFinalizeClosing(sess, now)
	}
}

func (ctx *Context) readFromTCP(sess *Session, now time.Time) {
	if sess.localEOF || sess.conn == nil || sess.awaitingDial || sess.removing {
		return
	}
	for !sess.sendWin.full() {
		sess.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, err := sess.reader.Read(sess.readBuf[:])
		if n > 0 {
			payload := append([]byte(nil), sess.readBuf[:n]...)
			seq := sess.nextSeq
			sess.nextSeq++
			sess.sendWin.push(seq, payload, now)
			ctx.sendDataRaw(sess, seq, payload)
			atomic.AddUint64(&ctx.snmp.BytesSent, uint64(n))
			sess.lastActivity = now
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			sess.localEOF = true
			ctx.beginClose(sess, now)
			return
		}
		if n == 0 {
			return
		}
	}
}

func (ctx *Context) flushSessionToTCP(sess *Session, now time.Time) {
	if len(sess.pendingOut) == 0 || sess.conn == nil {
		return
	}
	sess.conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
	n, err := sess.writer.Write(sess.pendingOut)
	if n > 0 {
		sess.pendingOut = sess.pendingOut[n:]
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		sess.pendingOut = nil
		if sess.state != stateClosed && sess.state != stateFailed {
			ctx.beginClose(sess, now)
		}
	}
}

func (ctx *Context) beginClose(sess *Session, now time.Time) {
	if sess.state == stateEstablished {
		sess.state = stateClosing
	}
	ctx.tryFinalizeClosing(sess, now)
}

func (ctx *Context) tryFinalizeClosing(sess *Session, now time.Time) {
	if sess.state != stateClosing {
		return
	}
	if !sess.closeSent && sess.sendWin.empty() {
		ctx.sendClose(sess)
		sess.closeSent = true
		sess.closeLinger = now.Add(sess.closeLingerDuration())
	}
	recvDrained := len(sess.recvWin.buffered) == 0 && len(sess.pendingOut) == 0
	peerDone := sess.closeRecv || (!sess.closeLinger.IsZero() && now.After(sess.closeLinger))
	if sess.closeSent && peerDone && recvDrained {
		ctx.destroySession(sess, now, stateClosed)
	}
}

func (ctx *Context) destroySession(sess *Session, now time.Time, final sessionState) {
	sess.state = final
	if sess.conn != nil {
		sess.conn.Close()
	}
	delete(ctx.sessions, sess.id)
	if sess.peerID != 0 {
		delete(ctx.peerIndex, sess.peerID)
	}
	if sess.rule != nil {
		delete(sess.rule.sessions, sess.id)
	}
	ctx.recentlyFreed[sess.id] = now
	if final == stateFailed {
		ctx.snmp.sessionFailed()
	} else {
		ctx.snmp.sessionClosed()
	}
}

func (ctx *Context) reapRecentlyFreed(now time.Time) {
	for id, freedAt := range ctx.recentlyFreed {
		if now.Sub(freedAt) >= ctx.cfg.sessionTimeout {
			delete(ctx.recentlyFreed, id)
		}
	}
}

func (ctx *Context) allocSessionID(now time.Time) uint16 {
	for i := 0; i < 65535; i++ {
		ctx.nextID++
		if ctx.nextID == 0 {
			ctx.nextID = 1
		}
		if _, live := ctx.sessions[ctx.nextID]; live {
			continue
		}
		if freedAt, recent := ctx.recentlyFreed[ctx.nextID]; recent && now.Sub(freedAt) < ctx.cfg.sessionTimeout {
			continue
		}
		return ctx.nextID
	}
	return 0
}

// ---- outbound packets ----

func (ctx *Context) sendConnect(sess *Session) {
	ctx.send(&Packet{Type: PacketConnect, SessionID: sess.id, Payload: []byte(sess.rule.service)}, sess)
}

func (ctx *Context) sendConnectAck(sess *Session) {
	ctx.send(&Packet{Type: PacketConnectAck, SessionID: sess.id, PeerSessionID: sess.peerID}, sess)
}

func (ctx *Context) sendConnectFail(sessionID, peerSessionID uint16, reason byte) {
	ctx.send(&Packet{Type: PacketConnectFail, SessionID: sessionID, PeerSessionID: peerSessionID, Payload: []byte{reason}}, nil)
}

func (ctx *Context) sendDataRaw(sess *Session, seq uint32, payload []byte) {
	ctx.send(&Packet{Type: PacketData, SessionID: sess.id, PeerSessionID: sess.peerID, Sequence: seq, Payload: payload}, sess)
}

func (ctx *Context) sendAck(sess *Session, ackSeq uint32) {
	ctx.send(&Packet{Type: PacketAck, SessionID: sess.id, PeerSessionID: sess.peerID, Sequence: ackSeq}, sess)
}

func (ctx *Context) sendClose(sess *Session) {
	ctx.send(&Packet{Type: PacketClose, SessionID: sess.id, PeerSessionID: sess.peerID}, sess)
}

func (ctx *Context) sendCloseRaw(sessionID, peerSessionID uint16) {
	ctx.send(&Packet{Type: PacketClose, SessionID: sessionID, PeerSessionID: peerSessionID}, nil)
}

func (ctx *Context) sendPing(sess *Session) {
	ctx.send(&Packet{Type: PacketPing, SessionID: sess.id, PeerSessionID: sess.peerID}, sess)
}

// send encodes pkt and schedules it for transmission, applying the debug
// delay/loss/bandwidth knobs. sess is nil for replies to packets that never
// resolved to a live session (stateless CONNECT_FAIL / CLOSE).
func (ctx *Context) send(pkt *Packet, sess *Session) {
	n, err := Encode(pkt, ctx.txBuf[:])
	if err != nil {
		emitError(ctx, nil, ErrProtocol, err.Error())
		return
	}
	if sess != nil {
		sess.lastSent = time.Now()
	}
	if ctx.cfg.debugLoss > 0 && ctx.rng.Intn(10000) < ctx.cfg.debugLoss {
		atomic.AddUint64(&ctx.snmp.DroppedPackets, 1)
		return
	}
	buf := append([]byte(nil), ctx.txBuf[:n]...)
	addr, _ := ctx.peerAddr.Load().(net.Addr)
	fireAt := time.Now()
	if ctx.cfg.debugDelay > 0 {
		fireAt = fireAt.Add(ctx.cfg.debugDelay)
	}
	ctx.delayed = append(ctx.delayed, delayedPacket{fireAt: fireAt, buf: buf, addr: addr})
}

// flushDelayed sends every queued packet whose fire time has arrived and
// for which the debug-bandwidth token bucket has room, leaving the rest
// queued for a later tick.
func (ctx *Context) flushDelayed(now time.Time) {
	if len(ctx.delayed) == 0 {
		return
	}
	ctx.refillBucket(now)
	remaining := ctx.delayed[:0]
	for _, p := range ctx.delayed {
		if now.Before(p.fireAt) {
			remaining = append(remaining, p)
			continue
		}
		if !ctx.consumeBucket(len(p.buf)) {
			remaining = append(remaining, p)
			continue
		}
		ctx.rawSend(p.buf, p.addr)
	}
	ctx.delayed = remaining
}

func (ctx *Context) refillBucket(now time.Time) {
	if ctx.cfg.debugBandwidth <= 0 {
		return
	}
	if ctx.bucketUpdated.IsZero() {
		ctx.bucketUpdated = now
		return
	}
	elapsed := now.Sub(ctx.bucketUpdated).Seconds()
	ctx.bucketTokens += elapsed * float64(ctx.cfg.debugBandwidth) / 8
	burstCap := float64(ctx.cfg.debugBandwidth) / 8 // one second's worth of bytes as burst cap
	if ctx.bucketTokens > burstCap {
		ctx.bucketTokens = burstCap
	}
	ctx.bucketUpdated = now
}

func (ctx *Context) consumeBucket(n int) bool {
	if ctx.cfg.debugBandwidth <= 0 {
		return true
	}
	if ctx.bucketTokens < float64(n) {
		return false
	}
	ctx.bucketTokens -= float64(n)
	return true
}

func (ctx *Context) rawSend(buf []byte, addr net.Addr) {
	ctx.sendMu.Lock()
	defer ctx.sendMu.Unlock()
	var err error
	if c, ok := ctx.conn.(net.Conn); ok && c.RemoteAddr() != nil {
		_, err = c.Write(buf)
	} else if addr != nil {
		_, err = ctx.conn.WriteTo(buf, addr)
	} else {
		err = errors.New("t2u: no peer address known")
	}
	if err != nil {
		ctx.handleFatal(err)
		return
	}
	atomic.AddUint64(&ctx.snmp.SegmentsSent, 1)
}

func (ctx *Context) handleFatal(err error) {
	if ctx.fatal {
		return
	}
	ctx.fatal = true
	emitError(ctx, nil, ErrFatal, err.Error())
	now := time.Now()
	for _, sess := range ctx.sessions {
		ctx.destroySession(sess, now, stateFailed)
	}
}

func (ctx *Context) doDebugDump(w io.Writer) error {
	fmt.Fprintf(w, "t2u context: rules=%d sessions=%d fatal=%v\n", len(ctx.rules), len(ctx.sessions), ctx.fatal)
	for _, r := range ctx.rules {
		fmt.Fprintf(w, "  rule role=%s service=%q target=%s:%d sessions=%d compress=%v\n",
			r.role, r.service, r.addr, r.port, len(r.sessions), r.compress)
	}
	for id, s := range ctx.sessions {
		if s.rule.compress {
			fmt.Fprintf(w, "  session id=%d peer=%d state=%s service=%q compress-ratio=%.2f\n",
				id, s.peerID, s.state, s.rule.service, s.compressionRatio())
			continue
		}
		fmt.Fprintf(w, "  session id=%d peer=%d state=%s service=%q\n", id, s.peerID, s.state, s.rule.service)
	}
	return nil
}
