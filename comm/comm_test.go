package comm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingle(t *testing.T) {
	c := Single()
	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.Size())

	got, err := c.AllGatherInts([]int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2, 3}}, got)

	sum, err := c.AllReduceInt(7, OpSum)
	require.NoError(t, err)
	assert.Equal(t, 7, sum)

	// Point-to-point on a one-rank group is invalid.
	assert.Error(t, c.SendInts(0, TagUser, []int{1}))
	_, err = c.RecvInts(0, TagUser)
	assert.Error(t, err)
}

func TestSendRecv(t *testing.T) {
	err := Run(2, func(c *Comm) error {
		switch c.Rank() {
		case 0:
			payload := []int{10, 20, 30}
			if err := c.SendInts(1, TagUser, payload); err != nil {
				return err
			}
			payload[0] = -1 // already copied, receiver must not see this
			return c.SendFloats(1, TagUser+1, []float64{1.5, 2.5})
		case 1:
			ints, err := c.RecvInts(0, TagUser)
			if err != nil {
				return err
			}
			if ints[0] != 10 || ints[2] != 30 {
				return fmt.Errorf("got %v", ints)
			}
			floats, err := c.RecvFloats(0, TagUser+1)
			if err != nil {
				return err
			}
			if floats[1] != 2.5 {
				return fmt.Errorf("got %v", floats)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRecvTagMismatch(t *testing.T) {
	err := Run(2, func(c *Comm) error {
		if c.Rank() == 0 {
			return c.SendInts(1, TagUser, []int{1})
		}
		_, err := c.RecvInts(0, TagUser+5)
		if err == nil {
			return fmt.Errorf("tag mismatch not reported")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestAllGather(t *testing.T) {
	err := Run(3, func(c *Comm) error {
		rows, err := c.AllGatherInts([]int{c.Rank(), c.Rank() * 10})
		if err != nil {
			return err
		}
		for r, row := range rows {
			if row[0] != r || row[1] != r*10 {
				return fmt.Errorf("rank %d: row %d = %v", c.Rank(), r, row)
			}
		}
		vals, err := c.AllGatherFloats([]float64{float64(c.Rank()) / 2})
		if err != nil {
			return err
		}
		if vals[2][0] != 1.0 {
			return fmt.Errorf("rank %d: %v", c.Rank(), vals)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestAllGatherUnevenLengths(t *testing.T) {
	err := Run(3, func(c *Comm) error {
		mine := make([]int, c.Rank()) // rank 0 contributes nothing
		for i := range mine {
			mine[i] = c.Rank()
		}
		rows, err := c.AllGatherInts(mine)
		if err != nil {
			return err
		}
		for r, row := range rows {
			if len(row) != r {
				return fmt.Errorf("rank %d: row %d has %d entries", c.Rank(), r, len(row))
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestAllReduce(t *testing.T) {
	err := Run(4, func(c *Comm) error {
		sum, err := c.AllReduceInt(c.Rank()+1, OpSum)
		if err != nil {
			return err
		}
		if sum != 10 {
			return fmt.Errorf("sum = %d", sum)
		}
		lo, err := c.AllReduceInt(c.Rank(), OpMin)
		if err != nil {
			return err
		}
		hi, err := c.AllReduceInt(c.Rank(), OpMax)
		if err != nil {
			return err
		}
		if lo != 0 || hi != 3 {
			return fmt.Errorf("min %d max %d", lo, hi)
		}
		f, err := c.AllReduceFloat(float64(c.Rank()), OpMax)
		if err != nil {
			return err
		}
		if f != 3 {
			return fmt.Errorf("float max = %g", f)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestBarrier(t *testing.T) {
	err := Run(3, func(c *Comm) error {
		return c.Barrier()
	})
	require.NoError(t, err)
}

func TestRunPropagatesError(t *testing.T) {
	sentinel := fmt.Errorf("rank failure")
	err := Run(2, func(c *Comm) error {
		if c.Rank() == 1 {
			return sentinel
		}
		return nil
	})
	assert.ErrorIs(t, err, sentinel)

	assert.Error(t, Run(0, func(*Comm) error { return nil }))
}
