// Package comm provides the blocking message-passing layer used by the
// domain-decomposition builders and the interface operator. Ranks live in one
// process and exchange messages over buffered channels; the call surface
// (point-to-point send/recv plus synchronous collectives) matches what the
// distributed builders need, so a rank's code reads the same whether the
// group has one member or many.
package comm

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Op selects the combining rule of an all-reduce.
type Op int

const (
	OpSum Op = iota
	OpMin
	OpMax
)

// pairBufferCap bounds the number of undelivered messages between one
// ordered pair of ranks. The builders exchange at most a handful of messages
// per pair per phase, so this never fills in practice; a full buffer would
// block the sender, which is the same behavior as a rendezvous send.
const pairBufferCap = 1024

type message struct {
	tag    int
	ints   []int
	floats []float64
}

// Comm is one rank's endpoint in a communicator group. All operations are
// blocking; collectives must be entered by every rank of the group in the
// same order.
type Comm struct {
	rank int
	size int
	// ch[src*size+dst] carries messages from src to dst, in FIFO order.
	ch []chan message
}

// Single returns a one-rank communicator. Collectives degenerate to local
// copies and point-to-point operations are invalid.
func Single() *Comm {
	return newGroup(1)[0]
}

// newGroup allocates the shared channel mesh for an n-rank group.
func newGroup(n int) []*Comm {
	ch := make([]chan message, n*n)
	for i := range ch {
		ch[i] = make(chan message, pairBufferCap)
	}
	comms := make([]*Comm, n)
	for r := 0; r < n; r++ {
		comms[r] = &Comm{rank: r, size: n, ch: ch}
	}
	return comms
}

// Run executes fn once per rank of an n-rank group, each on its own
// goroutine, and returns the first error any rank produced.
func Run(n int, fn func(c *Comm) error) error {
	if n < 1 {
		return fmt.Errorf("communicator group needs at least 1 rank, got %d", n)
	}
	comms := newGroup(n)
	g := new(errgroup.Group)
	for _, c := range comms {
		g.Go(func() error { return fn(c) })
	}
	return g.Wait()
}

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.size }

func (c *Comm) send(dst int, m message) error {
	if dst < 0 || dst >= c.size || dst == c.rank {
		return fmt.Errorf("rank %d: invalid send destination %d", c.rank, dst)
	}
	c.ch[c.rank*c.size+dst] <- m
	return nil
}

func (c *Comm) recv(src, tag int) (message, error) {
	if src < 0 || src >= c.size || src == c.rank {
		return message{}, fmt.Errorf("rank %d: invalid recv source %d", c.rank, src)
	}
	m := <-c.ch[src*c.size+c.rank]
	if m.tag != tag {
		return message{}, fmt.Errorf("rank %d: recv from %d: tag %d, want %d", c.rank, src, m.tag, tag)
	}
	return m, nil
}

// SendInts sends an integer payload to dst. The slice is copied before the
// handoff, so the caller may reuse it immediately.
func (c *Comm) SendInts(dst, tag int, v []int) error {
	return c.send(dst, message{tag: tag, ints: append([]int(nil), v...)})
}

// RecvInts receives the next integer payload from src, verifying the tag.
func (c *Comm) RecvInts(src, tag int) ([]int, error) {
	m, err := c.recv(src, tag)
	if err != nil {
		return nil, err
	}
	return m.ints, nil
}

// SendFloats sends a float64 payload to dst.
func (c *Comm) SendFloats(dst, tag int, v []float64) error {
	return c.send(dst, message{tag: tag, floats: append([]float64(nil), v...)})
}

// RecvFloats receives the next float64 payload from src, verifying the tag.
func (c *Comm) RecvFloats(src, tag int) ([]float64, error) {
	m, err := c.recv(src, tag)
	if err != nil {
		return nil, err
	}
	return m.floats, nil
}

// AllGatherInts gathers one integer slice from every rank. Result index is
// the contributing rank.
func (c *Comm) AllGatherInts(v []int) ([][]int, error) {
	out := make([][]int, c.size)
	out[c.rank] = append([]int(nil), v...)
	for dst := 0; dst < c.size; dst++ {
		if dst == c.rank {
			continue
		}
		if err := c.SendInts(dst, tagAllGather, v); err != nil {
			return nil, err
		}
	}
	for src := 0; src < c.size; src++ {
		if src == c.rank {
			continue
		}
		got, err := c.RecvInts(src, tagAllGather)
		if err != nil {
			return nil, err
		}
		out[src] = got
	}
	return out, nil
}

// AllGatherInt gathers one integer from every rank.
func (c *Comm) AllGatherInt(v int) ([]int, error) {
	rows, err := c.AllGatherInts([]int{v})
	if err != nil {
		return nil, err
	}
	out := make([]int, c.size)
	for r, row := range rows {
		out[r] = row[0]
	}
	return out, nil
}

// AllGatherFloats gathers one float64 slice from every rank.
func (c *Comm) AllGatherFloats(v []float64) ([][]float64, error) {
	out := make([][]float64, c.size)
	out[c.rank] = append([]float64(nil), v...)
	for dst := 0; dst < c.size; dst++ {
		if dst == c.rank {
			continue
		}
		if err := c.SendFloats(dst, tagAllGather, v); err != nil {
			return nil, err
		}
	}
	for src := 0; src < c.size; src++ {
		if src == c.rank {
			continue
		}
		got, err := c.RecvFloats(src, tagAllGather)
		if err != nil {
			return nil, err
		}
		out[src] = got
	}
	return out, nil
}

// AllReduceInt combines one integer across all ranks.
func (c *Comm) AllReduceInt(v int, op Op) (int, error) {
	all, err := c.AllGatherInt(v)
	if err != nil {
		return 0, err
	}
	acc := all[0]
	for _, x := range all[1:] {
		switch op {
		case OpSum:
			acc += x
		case OpMin:
			if x < acc {
				acc = x
			}
		case OpMax:
			if x > acc {
				acc = x
			}
		}
	}
	return acc, nil
}

// AllReduceFloat combines one float64 across all ranks.
func (c *Comm) AllReduceFloat(v float64, op Op) (float64, error) {
	all, err := c.AllGatherFloats([]float64{v})
	if err != nil {
		return 0, err
	}
	acc := all[0][0]
	for _, row := range all[1:] {
		x := row[0]
		switch op {
		case OpSum:
			acc += x
		case OpMin:
			if x < acc {
				acc = x
			}
		case OpMax:
			if x > acc {
				acc = x
			}
		}
	}
	return acc, nil
}

// Barrier blocks until every rank of the group has entered it.
func (c *Comm) Barrier() error {
	_, err := c.AllGatherInt(0)
	return err
}

// Message tags. Point-to-point phases use caller-chosen tags above TagUser to
// keep distinct exchange phases from being confused.
const (
	tagAllGather = -1

	// TagUser is the first tag value available to callers.
	TagUser = 0
)
