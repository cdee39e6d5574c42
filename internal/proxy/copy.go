package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CopyBidirectional relays bytes between left and right until either side
// reaches EOF or fails, ctx is canceled, or no data moves in either direction
// for idleTimeout. Both connections are closed before it returns.
//
// sent counts bytes copied from left to right, received from right to left.
func CopyBidirectional(ctx context.Context, left, right net.Conn, idleTimeout time.Duration) (sent, received int64, err error) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	// Unblock both copies if the context is canceled.
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var idle *idleTimer
	if idleTimeout > 0 {
		idle = newIdleTimer(idleTimeout, left, right)
	}

	var g errgroup.Group
	g.Go(func() error {
		defer closeBoth()
		var err error
		sent, err = copyConn(right, left, idle)
		return err
	})
	g.Go(func() error {
		defer closeBoth()
		var err error
		received, err = copyConn(left, right, idle)
		return err
	})

	err = g.Wait()
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return sent, received, err
}

func copyConn(dst io.Writer, src io.Reader, idle *idleTimer) (int64, error) {
	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			idle.touch()
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, quiet(werr)
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
			idle.touch()
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, quiet(rerr)
		}
	}
}

// quiet drops the error produced when the other direction already closed the
// pair.
func quiet(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// idleTimer pushes the deadline of both connections forward whenever data
// moves, at most once per tenth of the timeout.
type idleTimer struct {
	timeout time.Duration
	conns   []net.Conn

	mu   sync.Mutex
	last time.Time
}

func newIdleTimer(timeout time.Duration, conns ...net.Conn) *idleTimer {
	t := &idleTimer{timeout: timeout, conns: conns}
	t.extend(time.Now())
	return t
}

func (t *idleTimer) touch() {
	if t == nil {
		return
	}
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.last) < t.timeout/10 {
		return
	}
	t.extend(now)
}

func (t *idleTimer) extend(now time.Time) {
	t.last = now
	dl := now.Add(t.timeout)
	for _, c := range t.conns {
		_ = c.SetDeadline(dl)
	}
}
