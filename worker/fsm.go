package main

import (
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"shadowcrack/internal/messages"
	"shadowcrack/internal/pool"
	"shadowcrack/internal/verifier"
)

type state int

const (
	stateInit state = iota
	stateStartCallback
	stateRegister
	statePoll
	stateAcceptBack
	stateReadReady
	stateRunAssign
	stateEnd
	stateError
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateStartCallback:
		return "START_CALLBACK"
	case stateRegister:
		return "REGISTER_WITH_SERVER"
	case statePoll:
		return "POLL"
	case stateAcceptBack:
		return "ACCEPT_BACK"
	case stateReadReady:
		return "READ_READY"
	case stateRunAssign:
		return "RUN_ASSIGN"
	case stateEnd:
		return "END"
	case stateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

const (
	defaultHelloTimeout = 5 * time.Second
	defaultPollInterval = 100 * time.Millisecond
	readSlice           = 10 * time.Millisecond
)

// node drives the worker's client state machine over one callback
// connection.
type node struct {
	cfg  config
	pool *pool.Pool
	log  zerolog.Logger

	nodeID       string
	helloTimeout time.Duration
	pollInterval time.Duration

	ln   *net.TCPListener
	conn net.Conn

	// recv is shared between the FSM reader and the control listener;
	// recvMu guards it.
	recvMu sync.Mutex
	recv   messages.LineBuffer

	sendMu sync.Mutex

	// extStop unblocks the pool; stopReason is set only by a real STOP
	// message and decides whether the final WORK_RESULT is suppressed.
	extStop    atomic.Bool
	stopReason atomic.Pointer[string]
	sendFailed atomic.Bool

	assign   *messages.AssignWork
	exitCode int
}

func newNode(cfg config, p *pool.Pool, log zerolog.Logger) *node {
	return &node{
		cfg:          cfg,
		pool:         p,
		log:          log,
		nodeID:       "c-" + hostnameOr("worker"),
		helloTimeout: defaultHelloTimeout,
		pollInterval: defaultPollInterval,
	}
}

// Run walks the state table and returns the process exit code.
func (n *node) Run() int {
	st := stateInit
	for st != stateEnd {
		next := n.step(st)
		if next != st {
			n.log.Debug().Stringer("from", st).Stringer("to", next).Msg("transition")
		}
		st = next
	}
	n.shutdown()
	return n.exitCode
}

func (n *node) step(st state) state {
	switch st {
	case stateInit:
		return stateStartCallback
	case stateStartCallback:
		return n.startCallback()
	case stateRegister:
		return n.register()
	case statePoll:
		return n.poll()
	case stateAcceptBack:
		return n.acceptBack()
	case stateReadReady:
		return n.readReady()
	case stateRunAssign:
		return n.runAssign()
	case stateError:
		n.log.Error().Msg("entering ERROR state")
		if n.exitCode == 0 {
			n.exitCode = 1
		}
		return stateEnd
	}
	return stateEnd
}

func (n *node) shutdown() {
	if n.conn != nil {
		_ = n.conn.Close()
	}
	if n.ln != nil {
		_ = n.ln.Close()
	}
}

func (n *node) startCallback() state {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		n.log.Error().Err(err).Msg("cannot bind callback listener")
		return stateError
	}
	n.ln = ln.(*net.TCPListener)
	n.log.Debug().Stringer("addr", n.ln.Addr()).Msg("callback listener up")
	return stateRegister
}

func (n *node) register() state {
	addr := net.JoinHostPort(n.cfg.serverHost, strconv.Itoa(n.cfg.serverPort))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		n.log.Error().Err(err).Str("coordinator", addr).Msg("coordinator unreachable")
		return stateError
	}
	defer conn.Close()

	port := n.ln.Addr().(*net.TCPAddr).Port
	reg := &messages.ClientRegister{
		NodeID:     n.nodeID,
		ListenHost: localAddrToward(n.cfg.serverHost, n.cfg.serverPort),
		ListenPort: port,
		Threads:    n.cfg.threads,
	}
	if err := messages.Send(conn, messages.KindClientRegister, reg); err != nil {
		n.log.Error().Err(err).Msg("send CLIENT_REGISTER failed")
		return stateError
	}
	n.log.Debug().Str("listenHost", reg.ListenHost).Int("listenPort", reg.ListenPort).Msg("registered")
	return statePoll
}

func (n *node) poll() state {
	if err := n.ln.SetDeadline(time.Now().Add(n.pollInterval)); err != nil {
		n.log.Error().Err(err).Msg("listener deadline failed")
		return stateError
	}
	conn, err := n.ln.Accept()
	if err != nil {
		if isTimeout(err) {
			return statePoll
		}
		n.log.Error().Err(err).Msg("callback accept failed")
		return stateError
	}
	n.conn = conn
	return stateAcceptBack
}

func (n *node) acceptBack() state {
	line, err := n.nextLine(n.helloTimeout)
	if err != nil {
		n.log.Error().Err(err).Msg("no SERVER_HELLO within deadline")
		return stateError
	}
	env, err := messages.ParseLine(line)
	if err != nil {
		n.log.Error().Err(err).Msg("handshake frame malformed")
		return stateError
	}
	msg, err := messages.Decode(env)
	if err != nil {
		n.log.Error().Err(err).Msg("handshake decode failed")
		return stateError
	}
	hello, ok := msg.(*messages.ServerHello)
	if !ok {
		n.log.Error().Str("type", string(env.Type)).Msg("expected SERVER_HELLO")
		return stateError
	}
	n.log.Debug().Str("serverTime", hello.ServerTime).Msg("SERVER_HELLO received")

	ack := &messages.ClientHelloAck{NodeID: n.nodeID, OK: true}
	if err := n.send(messages.KindClientHelloAck, ack); err != nil {
		n.log.Error().Err(err).Msg("send CLIENT_HELLO_ACK failed")
		return stateError
	}
	return stateReadReady
}

// readReady waits for the next frame and dispatches on its kind.
// Malformed frames and unknown kinds are logged and skipped; only a
// STOP message or peer close ends the session.
func (n *node) readReady() state {
	for {
		line, err := n.nextLine(n.pollInterval)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			n.log.Debug().Err(err).Msg("peer closed session")
			return stateEnd
		}

		env, err := messages.ParseLine(line)
		if err != nil {
			n.log.Info().Err(err).Msg("skipping malformed frame")
			continue
		}
		msg, err := messages.Decode(env)
		if err != nil {
			n.log.Info().Err(err).Msg("skipping undecodable frame")
			continue
		}

		switch m := msg.(type) {
		case *messages.AssignWork:
			n.log.Debug().Str("jobId", m.JobID).Int64("startIndex", m.StartIndex).
				Int64("count", m.Count).Msg("ASSIGN_WORK received")
			n.assign = m
			return stateRunAssign
		case *messages.Stop:
			n.log.Info().Str("reason", m.Reason).Msg("STOP received")
			return stateEnd
		default:
			n.log.Info().Str("type", string(env.Type)).Msg("ignoring unexpected message in READ_READY")
		}
	}
}

func (n *node) runAssign() state {
	a := n.assign
	n.assign = nil

	v, err := verifier.New(a.StoredHash)
	if err != nil {
		// The contract is one WORK_RESULT per ASSIGN_WORK even when
		// the assignment itself is unusable.
		n.log.Warn().Err(err).Str("jobId", a.JobID).Msg("assignment has no usable hash")
		return n.sendResult(a, pool.SliceResult{DurationMs: 1})
	}

	ctl := n.startControlListener()
	cb := pool.Callbacks{
		OnWorkerStart: func(slot, tid int) {
			n.log.Debug().Int("slot", slot).Int("tid", tid).Msg("worker slot started")
		},
		OnCheckpoint: func(tried int64, perWorker []int64) {
			n.emitCheckpoint(a, tried, perWorker)
		},
		IsStopRequested: n.extStop.Load,
	}

	res, runErr := n.pool.RunSlice(v, a.StartIndex, a.Count, int64(a.CheckpointEvery), cb)
	ctl.wait()
	n.finalDrain()

	if reason := n.stopReason.Load(); reason != nil {
		n.log.Info().Str("reason", *reason).Str("jobId", a.JobID).Msg("STOP during job; result suppressed")
		n.exitCode = 0
		return stateEnd
	}
	if runErr != nil {
		n.log.Error().Err(runErr).Str("jobId", a.JobID).Msg("slice failed")
		return stateError
	}
	if n.sendFailed.Load() || ctl.err != nil {
		n.log.Error().AnErr("controlErr", ctl.err).Msg("session transport failed during job")
		return stateError
	}
	return n.sendResult(a, res)
}

func (n *node) sendResult(a *messages.AssignWork, res pool.SliceResult) state {
	wr := &messages.WorkResult{
		JobID:      a.JobID,
		Found:      res.Found,
		Tried:      res.Tried,
		DurationMs: res.DurationMs,
	}
	if res.Found {
		pw := res.Password
		wr.Password = &pw
	}
	if err := n.send(messages.KindWorkResult, wr); err != nil {
		n.log.Error().Err(err).Msg("send WORK_RESULT failed")
		return stateError
	}
	evt := n.log.Info().Str("jobId", a.JobID).Bool("found", res.Found).
		Int64("tried", res.Tried).Int64("durationMs", res.DurationMs)
	if res.Found {
		evt = evt.Str("password", res.Password)
	}
	evt.Msg("result")
	return stateReadReady
}

func (n *node) emitCheckpoint(a *messages.AssignWork, tried int64, perWorker []int64) {
	cp := &messages.Checkpoint{
		JobID:     a.JobID,
		Tried:     tried,
		LastIndex: a.StartIndex + tried - 1,
		TS:        messages.Timestamp(time.Now()),
	}
	if err := n.send(messages.KindCheckpoint, cp); err != nil {
		n.log.Warn().Err(err).Msg("checkpoint send failed; stopping job")
		n.sendFailed.Store(true)
		n.extStop.Store(true)
		n.pool.StopActive()
		return
	}
	if n.cfg.verbose {
		n.log.Debug().Int64("tried", tried).Ints64("perWorker", perWorker).Msg("checkpoint")
	}
}

// send serializes whole lines onto the session connection.
func (n *node) send(kind messages.Kind, body any) error {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	n.log.Debug().Str("send", string(kind)).Msg("message out")
	return messages.Send(n.conn, kind, body)
}

// nextLine returns the next buffered frame, reading from the session
// connection in short slices until one is complete or the timeout
// lapses.
func (n *node) nextLine(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4096)
	for {
		n.recvMu.Lock()
		line, ok := n.recv.Next()
		n.recvMu.Unlock()
		if ok {
			return line, nil
		}
		if time.Now().After(deadline) {
			return nil, os.ErrDeadlineExceeded
		}
		if err := n.conn.SetReadDeadline(time.Now().Add(readSlice)); err != nil {
			return nil, err
		}
		m, err := n.conn.Read(buf)
		if m > 0 {
			n.recvMu.Lock()
			n.recv.Append(buf[:m])
			n.recvMu.Unlock()
		}
		if err != nil && !isTimeout(err) {
			// Flush any already-buffered frame before surfacing the
			// close.
			n.recvMu.Lock()
			line, ok := n.recv.Next()
			n.recvMu.Unlock()
			if ok {
				return line, nil
			}
			return nil, err
		}
	}
}

// finalDrain performs one non-blocking read after the workers drain to
// catch a STOP that raced the final result.
func (n *node) finalDrain() {
	if err := n.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		m, err := n.conn.Read(buf)
		if m > 0 {
			n.recvMu.Lock()
			n.recv.Append(buf[:m])
			n.recvMu.Unlock()
		}
		if err != nil {
			break
		}
	}
	n.scanBufferedForStop()
}

// scanBufferedForStop consumes buffered frames, honoring STOP and
// discarding anything else. It reports whether a STOP was seen.
func (n *node) scanBufferedForStop() bool {
	for {
		n.recvMu.Lock()
		line, ok := n.recv.Next()
		n.recvMu.Unlock()
		if !ok {
			return n.stopReason.Load() != nil
		}
		env, err := messages.ParseLine(line)
		if err != nil {
			n.log.Info().Err(err).Msg("skipping malformed frame")
			continue
		}
		msg, err := messages.Decode(env)
		if err != nil {
			n.log.Info().Err(err).Msg("skipping undecodable frame")
			continue
		}
		if stop, ok := msg.(*messages.Stop); ok {
			reason := stop.Reason
			n.stopReason.CompareAndSwap(nil, &reason)
			n.extStop.Store(true)
			n.pool.StopActive()
			return true
		}
		n.log.Info().Str("type", string(env.Type)).Msg("ignoring message during job")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// localAddrToward discovers the local address the coordinator can dial
// back, by opening a UDP socket toward it.
func localAddrToward(host string, port int) string {
	conn, err := net.Dial("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func hostnameOr(fallback string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return fallback
	}
	return h
}
