package main

import (
	"time"
)

// controlListener watches the session connection while a job is
// running, so an out-of-band STOP reaches the pool without waiting for
// the slice to finish. It shares the node's receive buffer with the
// main reader under the same mutex.
type controlListener struct {
	n    *node
	quit chan struct{}
	done chan struct{}
	err  error
}

func (n *node) startControlListener() *controlListener {
	c := &controlListener{
		n:    n,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go c.loop()
	return c
}

// wait stops the listener and blocks until it has released the
// connection.
func (c *controlListener) wait() {
	close(c.quit)
	<-c.done
}

func (c *controlListener) loop() {
	defer close(c.done)

	buf := make([]byte, 4096)
	for {
		select {
		case <-c.quit:
			return
		default:
		}

		if c.n.scanBufferedForStop() {
			return
		}

		if err := c.n.conn.SetReadDeadline(time.Now().Add(readSlice)); err != nil {
			c.fail(err)
			return
		}
		m, err := c.n.conn.Read(buf)
		if m > 0 {
			c.n.recvMu.Lock()
			c.n.recv.Append(buf[:m])
			c.n.recvMu.Unlock()
		}
		if err != nil && !isTimeout(err) {
			if c.n.scanBufferedForStop() {
				return
			}
			c.fail(err)
			return
		}
	}
}

// fail records a transport error and unblocks the pool; the FSM turns
// it into an ERROR transition after the workers drain.
func (c *controlListener) fail(err error) {
	c.err = err
	c.n.log.Debug().Err(err).Msg("control listener read failed")
	c.n.extStop.Store(true)
	c.n.pool.StopActive()
}
