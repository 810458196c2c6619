package main

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"shadowcrack/internal/messages"
)

const helloAckTimeout = 5 * time.Second

// session is one worker's reverse-connect callback channel. Writes
// are serialized so an assignment and a broadcast STOP never
// interleave on the wire.
type session struct {
	nodeID string
	conn   net.Conn
	sendMu sync.Mutex
}

func (s *session) send(kind messages.Kind, body any) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return messages.Send(s.conn, kind, body)
}

// handleRegistration consumes exactly one CLIENT_REGISTER from a
// forward connection, closes it, and starts the reverse session.
func (c *campaign) handleRegistration(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(helloAckTimeout))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		c.log.Warn().Err(err).Msg("registration read failed")
		return
	}
	env, err := messages.ParseLine(line[:len(line)-1])
	if err != nil {
		c.log.Info().Err(err).Msg("skipping malformed registration frame")
		return
	}
	msg, err := messages.Decode(env)
	if err != nil {
		c.log.Info().Err(err).Msg("skipping undecodable registration frame")
		return
	}
	reg, ok := msg.(*messages.ClientRegister)
	if !ok {
		c.log.Info().Str("type", string(env.Type)).Msg("expected CLIENT_REGISTER")
		return
	}

	c.log.Info().Str("nodeId", reg.NodeID).Str("listenHost", reg.ListenHost).
		Int("listenPort", reg.ListenPort).Int("threads", reg.Threads).Msg("worker registered")
	go c.runSession(reg)
}

// runSession performs the reverse handshake and then feeds the worker
// one assignment at a time until the space or the campaign ends.
func (c *campaign) runSession(reg *messages.ClientRegister) {
	addr := net.JoinHostPort(reg.ListenHost, strconv.Itoa(reg.ListenPort))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		c.log.Warn().Err(err).Str("nodeId", reg.NodeID).Msg("reverse connect failed")
		return
	}
	s := &session{nodeID: reg.NodeID, conn: conn}
	defer conn.Close()

	hello := &messages.ServerHello{ServerTime: messages.Timestamp(time.Now()), NodeID: reg.NodeID}
	if err := s.send(messages.KindServerHello, hello); err != nil {
		c.log.Warn().Err(err).Str("nodeId", reg.NodeID).Msg("send SERVER_HELLO failed")
		return
	}

	r := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(helloAckTimeout))
	ack, err := readMessage[*messages.ClientHelloAck](r)
	if err != nil || !ack.OK {
		c.log.Warn().Err(err).Str("nodeId", reg.NodeID).Msg("handshake not acknowledged")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.addSession(s)
	defer c.removeSession(s)

	for !c.finished() {
		start, count, ok := c.split.Next()
		if !ok {
			return
		}
		if !c.runJob(s, r, start, count) {
			return
		}
	}
}

// runJob drives one assignment; false means the session is dead (the
// chunk has been requeued) or the campaign is over.
func (c *campaign) runJob(s *session, r *bufio.Reader, start, count int64) bool {
	jobID := uuid.NewString()
	assign := &messages.AssignWork{
		JobID:           jobID,
		StoredHash:      c.storedHash,
		StartIndex:      start,
		Count:           count,
		CheckpointEvery: c.cfg.checkpointEvery,
	}
	if err := s.send(messages.KindAssignWork, assign); err != nil {
		c.log.Warn().Err(err).Str("nodeId", s.nodeID).Msg("assign failed; requeueing chunk")
		c.split.Requeue(start, count)
		return false
	}
	c.log.Debug().Str("jobId", jobID).Str("nodeId", s.nodeID).
		Int64("startIndex", start).Int64("count", count).Msg("assigned")

	var lastTried int64
	for {
		env, err := readEnvelope(r)
		if err != nil {
			if c.finished() {
				return false
			}
			c.log.Warn().Err(err).Str("nodeId", s.nodeID).Msg("session lost; requeueing chunk")
			c.split.Requeue(start, count)
			return false
		}
		msg, err := messages.Decode(env)
		if err != nil {
			c.log.Info().Err(err).Msg("skipping undecodable frame")
			continue
		}

		switch m := msg.(type) {
		case *messages.Checkpoint:
			c.progress(m.Tried - lastTried)
			lastTried = m.Tried
			c.log.Debug().Str("jobId", m.JobID).Int64("tried", m.Tried).
				Int64("lastIndex", m.LastIndex).Msg("checkpoint")
		case *messages.WorkResult:
			c.progress(m.Tried - lastTried)
			if m.Found && m.Password != nil {
				c.finish(*m.Password)
				return false
			}
			c.completeChunk()
			return true
		default:
			c.log.Info().Str("type", string(env.Type)).Msg("ignoring unexpected message in session")
		}
	}
}

func readEnvelope(r *bufio.Reader) (*messages.Envelope, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return messages.ParseLine(line[:len(line)-1])
}

func readMessage[T any](r *bufio.Reader) (T, error) {
	var zero T
	env, err := readEnvelope(r)
	if err != nil {
		return zero, err
	}
	msg, err := messages.Decode(env)
	if err != nil {
		return zero, err
	}
	typed, ok := msg.(T)
	if !ok {
		return zero, errUnexpectedMessage(env.Type)
	}
	return typed, nil
}

type errUnexpectedMessage messages.Kind

func (e errUnexpectedMessage) Error() string {
	return "unexpected message type " + string(e)
}
