package main

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"shadowcrack/internal/messages"
	"shadowcrack/internal/pool"
)

// fakeCoordinator drives the worker from the peer side of the
// protocol: it accepts the forward registration, reverse-connects, and
// hands the test the callback connection.
type fakeCoordinator struct {
	t  *testing.T
	ln net.Listener
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return &fakeCoordinator{t: t, ln: ln}
}

func (f *fakeCoordinator) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

// acceptRegistration reads one CLIENT_REGISTER and closes the forward
// connection, as the coordinator contract requires.
func (f *fakeCoordinator) acceptRegistration() *messages.ClientRegister {
	f.t.Helper()
	conn, err := f.ln.Accept()
	require.NoError(f.t, err)
	defer conn.Close()

	require.NoError(f.t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	env := readEnvelope(f.t, bufio.NewReader(conn))
	msg, err := messages.Decode(env)
	require.NoError(f.t, err)
	reg, ok := msg.(*messages.ClientRegister)
	require.True(f.t, ok, "expected CLIENT_REGISTER, got %s", env.Type)
	return reg
}

// dialBack opens the reverse connection and completes the hello
// handshake.
func (f *fakeCoordinator) dialBack(reg *messages.ClientRegister) (net.Conn, *bufio.Reader) {
	f.t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort(reg.ListenHost, strconv.Itoa(reg.ListenPort)))
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = conn.Close() })

	hello := &messages.ServerHello{ServerTime: messages.Timestamp(time.Now()), NodeID: reg.NodeID}
	require.NoError(f.t, messages.Send(conn, messages.KindServerHello, hello))

	r := bufio.NewReader(conn)
	require.NoError(f.t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	env := readEnvelope(f.t, r)
	msg, err := messages.Decode(env)
	require.NoError(f.t, err)
	ack, ok := msg.(*messages.ClientHelloAck)
	require.True(f.t, ok)
	require.True(f.t, ack.OK)
	return conn, r
}

func readEnvelope(t *testing.T, r *bufio.Reader) *messages.Envelope {
	t.Helper()
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	env, err := messages.ParseLine(line[:len(line)-1])
	require.NoError(t, err)
	return env
}

func startNode(t *testing.T, f *fakeCoordinator, threads int) (*node, chan int) {
	t.Helper()
	p, err := pool.New(threads, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	cfg := config{serverHost: "127.0.0.1", serverPort: f.port(), threads: threads}
	n := newNode(cfg, p, zerolog.Nop())

	codeCh := make(chan int, 1)
	go func() { codeCh <- n.Run() }()
	return n, codeCh
}

func waitExit(t *testing.T, codeCh chan int) int {
	t.Helper()
	select {
	case code := <-codeCh:
		return code
	case <-time.After(60 * time.Second):
		t.Fatal("worker did not exit")
		return -1
	}
}

func TestWorkerCracksSliceWithMalformedFrameInBetween(t *testing.T) {
	f := newFakeCoordinator(t)
	_, codeCh := startNode(t, f, 4)

	reg := f.acceptRegistration()
	assert.NotZero(t, reg.ListenPort)
	assert.Equal(t, 4, reg.Threads)

	conn, r := f.dialBack(reg)

	// A bogus frame must be skipped without ending the session.
	_, err := conn.Write([]byte("{bogus}\n"))
	require.NoError(t, err)

	hashed, err := bcrypt.GenerateFromPassword([]byte("Cc"), bcrypt.MinCost)
	require.NoError(t, err)

	assign := &messages.AssignWork{
		JobID:           "j1",
		StoredHash:      string(hashed),
		StartIndex:      79,
		Count:           6241,
		CheckpointEvery: 100,
	}
	require.NoError(t, messages.Send(conn, messages.KindAssignWork, assign))

	var checkpoints []int64
	var result *messages.WorkResult
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(60*time.Second)))
	for result == nil {
		env := readEnvelope(t, r)
		msg, err := messages.Decode(env)
		require.NoError(t, err)
		switch m := msg.(type) {
		case *messages.Checkpoint:
			assert.Equal(t, "j1", m.JobID)
			assert.Equal(t, assign.StartIndex+m.Tried-1, m.LastIndex)
			checkpoints = append(checkpoints, m.Tried)
		case *messages.WorkResult:
			result = m
		default:
			t.Fatalf("unexpected message %s", env.Type)
		}
	}

	require.True(t, result.Found)
	require.NotNil(t, result.Password)
	assert.Equal(t, "Cc", *result.Password)
	assert.GreaterOrEqual(t, result.Tried, int64(1))
	assert.LessOrEqual(t, result.Tried, int64(6241))
	assert.Greater(t, result.DurationMs, int64(0))

	require.NotEmpty(t, checkpoints)
	for i := 1; i < len(checkpoints); i++ {
		assert.Greater(t, checkpoints[i], checkpoints[i-1])
	}

	_ = conn.Close()
	assert.Equal(t, 0, waitExit(t, codeCh))
}

func TestWorkerReportsMissWithTerminalCheckpoint(t *testing.T) {
	f := newFakeCoordinator(t)
	_, codeCh := startNode(t, f, 4)

	reg := f.acceptRegistration()
	conn, r := f.dialBack(reg)

	hashed, err := bcrypt.GenerateFromPassword([]byte("zz9"), bcrypt.MinCost)
	require.NoError(t, err)

	assign := &messages.AssignWork{
		JobID:           "j2",
		StoredHash:      string(hashed),
		StartIndex:      79,
		Count:           500,
		CheckpointEvery: 100,
	}
	require.NoError(t, messages.Send(conn, messages.KindAssignWork, assign))

	var checkpoints []int64
	var result *messages.WorkResult
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(60*time.Second)))
	for result == nil {
		env := readEnvelope(t, r)
		msg, err := messages.Decode(env)
		require.NoError(t, err)
		switch m := msg.(type) {
		case *messages.Checkpoint:
			checkpoints = append(checkpoints, m.Tried)
		case *messages.WorkResult:
			result = m
		}
	}

	assert.False(t, result.Found)
	assert.Nil(t, result.Password)
	assert.Equal(t, int64(500), result.Tried)
	require.NotEmpty(t, checkpoints)
	assert.Equal(t, int64(500), checkpoints[len(checkpoints)-1])

	_ = conn.Close()
	assert.Equal(t, 0, waitExit(t, codeCh))
}

func TestWorkerHonorsStopMidRun(t *testing.T) {
	f := newFakeCoordinator(t)
	_, codeCh := startNode(t, f, 4)

	reg := f.acceptRegistration()
	conn, r := f.dialBack(reg)

	// A malformed bcrypt hash: every verify errors fast, the index
	// still counts as tried, and the slice is long enough for a STOP
	// to land mid-run.
	assign := &messages.AssignWork{
		JobID:           "j3",
		StoredHash:      "$2b$04$tooshort",
		StartIndex:      0,
		Count:           1_000_000,
		CheckpointEvery: 10_000,
	}
	require.NoError(t, messages.Send(conn, messages.KindAssignWork, assign))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(60*time.Second)))
	env := readEnvelope(t, r)
	require.Equal(t, messages.KindCheckpoint, env.Type)

	require.NoError(t, messages.Send(conn, messages.KindStop, &messages.Stop{Reason: "operator abort"}))

	// No WORK_RESULT may follow; the worker drains and closes.
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			break
		}
		env, perr := messages.ParseLine(line[:len(line)-1])
		require.NoError(t, perr)
		require.NotEqual(t, messages.KindWorkResult, env.Type, "result must be suppressed after STOP")
	}

	assert.Equal(t, 0, waitExit(t, codeCh))
}

func TestWorkerHandshakeTimeout(t *testing.T) {
	f := newFakeCoordinator(t)

	p, err := pool.New(2, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	cfg := config{serverHost: "127.0.0.1", serverPort: f.port(), threads: 2}
	n := newNode(cfg, p, zerolog.Nop())
	n.helloTimeout = 200 * time.Millisecond

	codeCh := make(chan int, 1)
	go func() { codeCh <- n.Run() }()

	reg := f.acceptRegistration()
	conn, err := net.Dial("tcp", net.JoinHostPort(reg.ListenHost, strconv.Itoa(reg.ListenPort)))
	require.NoError(t, err)
	defer conn.Close()
	// Never send SERVER_HELLO.

	assert.Equal(t, 1, waitExit(t, codeCh))
}

func TestWorkerAnswersUnusableAssignment(t *testing.T) {
	f := newFakeCoordinator(t)
	_, codeCh := startNode(t, f, 2)

	reg := f.acceptRegistration()
	conn, r := f.dialBack(reg)

	assign := &messages.AssignWork{
		JobID:           "j4",
		StoredHash:      "*",
		StartIndex:      0,
		Count:           100,
		CheckpointEvery: 10,
	}
	require.NoError(t, messages.Send(conn, messages.KindAssignWork, assign))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	env := readEnvelope(t, r)
	require.Equal(t, messages.KindWorkResult, env.Type)
	msg, err := messages.Decode(env)
	require.NoError(t, err)
	result := msg.(*messages.WorkResult)
	assert.False(t, result.Found)
	assert.Equal(t, int64(0), result.Tried)

	_ = conn.Close()
	assert.Equal(t, 0, waitExit(t, codeCh))
}

func TestWorkerRegisterFailsWithoutCoordinator(t *testing.T) {
	t.Parallel()

	p, err := pool.New(1, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	// Reserve a port, then close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	n := newNode(config{serverHost: "127.0.0.1", serverPort: port, threads: 1}, p, zerolog.Nop())
	assert.Equal(t, 1, n.Run())
}
