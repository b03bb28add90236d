package parallel

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// mailDepth bounds how far a rank can run ahead of a peer. Collectives are
// issued in the same order everywhere, so at most two messages per pair are
// ever in flight.
const mailDepth = 4

type message struct {
	comm string
	data []float64
}

// World launches size SPMD ranks as goroutines.
type World struct {
	size int
}

func NewWorld(size int) (*World, error) {
	if size < 1 {
		return nil, types.InvalidConfigurationf("world size %d", size)
	}
	return &World{size: size}, nil
}

func (w *World) Size() int { return w.size }

// Run executes fn once per rank and waits for all of them. The first rank
// to fail aborts the others: their blocked collectives return ErrAborted.
func (w *World) Run(fn func(c *Comm) error) error {
	return w.RunContext(context.Background(), fn)
}

func (w *World) RunContext(ctx context.Context, fn func(c *Comm) error) error {
	g, gctx := errgroup.WithContext(ctx)
	var (
		mb      = utils.NewMailBox[message](w.size, mailDepth, gctx.Done())
		members = make([]int, w.size)
	)
	for r := range members {
		members[r] = r
	}
	for r := 0; r < w.size; r++ {
		c := &Comm{
			id:      "world",
			rank:    r,
			members: members,
			mb:      mb,
		}
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("rank %d panic: %v", c.rank, p)
				}
			}()
			if err = fn(c); err != nil {
				utils.Logger().Debug("rank failed", zap.Int("rank", c.rank), zap.Error(err))
			}
			return err
		})
	}
	return g.Wait()
}

// Comm is one rank's view of a group of ranks.
//
// Every communicating method is COLLECTIVE: all members must call it, in the
// same order, with matching shapes. A call blocks until every member has
// taken part; it cannot be cancelled per rank and only returns early with
// ErrAborted when the whole World is aborted.
type Comm struct {
	id      string
	rank    int   // rank within this comm
	members []int // world ranks of the members
	mb      *utils.MailBox[message]
}

func (c *Comm) Rank() int { return c.rank }

func (c *Comm) Size() int { return len(c.members) }

// WorldRank is the rank of the caller in the World.
func (c *Comm) WorldRank() int { return c.members[c.rank] }

// Sub builds the communicator of the listed members, given as ranks of c.
// It is local: no messages are exchanged. The caller must be a member.
func (c *Comm) Sub(members []int) (sub *Comm, err error) {
	sub = &Comm{
		id:      fmt.Sprintf("%s/%v", c.id, members),
		rank:    -1,
		members: make([]int, len(members)),
		mb:      c.mb,
	}
	for i, m := range members {
		if m < 0 || m >= c.Size() {
			return nil, types.InvalidConfigurationf("sub communicator member %d out of range", m)
		}
		sub.members[i] = c.members[m]
		if m == c.rank {
			sub.rank = i
		}
	}
	if sub.rank < 0 {
		return nil, types.InvalidConfigurationf("rank %d is not a member of %v", c.rank, members)
	}
	return
}

func (c *Comm) post(to int, data []float64) error {
	if !c.mb.PostMessage(c.WorldRank(), c.members[to], message{comm: c.id, data: data}) {
		return types.ErrAborted
	}
	return nil
}

func (c *Comm) receive(from int) ([]float64, error) {
	msg, ok := c.mb.ReceiveMessage(c.WorldRank(), c.members[from])
	if !ok {
		return nil, types.ErrAborted
	}
	if msg.comm != c.id {
		return nil, fmt.Errorf("collective mismatch on rank %d: %s received a message for %s",
			c.WorldRank(), c.id, msg.comm)
	}
	return msg.data, nil
}

// Alltoallv sends send[j] to member j and returns what each member sent to
// the caller. Buffers are passed by reference: received slices are read-only
// and a sent slice must not be modified by its owner afterwards. Collective.
func (c *Comm) Alltoallv(send [][]float64) (recv [][]float64, err error) {
	if len(send) != c.Size() {
		return nil, types.DimensionMismatchf("alltoallv needs %d buffers, have %d", c.Size(), len(send))
	}
	recv = make([][]float64, c.Size())
	for j := range send {
		if j == c.rank {
			recv[j] = append([]float64(nil), send[j]...)
			continue
		}
		if err = c.post(j, send[j]); err != nil {
			return nil, err
		}
	}
	for j := range send {
		if j == c.rank {
			continue
		}
		if recv[j], err = c.receive(j); err != nil {
			return nil, err
		}
	}
	return
}

// Allgatherv returns every member's v, in member order. Collective.
func (c *Comm) Allgatherv(v []float64) ([][]float64, error) {
	send := make([][]float64, c.Size())
	for j := range send {
		send[j] = v
	}
	return c.Alltoallv(send)
}

func (c *Comm) allreduce(v []float64, op func(acc, x float64) float64) (r []float64, err error) {
	var all [][]float64
	if all, err = c.Allgatherv(v); err != nil {
		return
	}
	r = append([]float64(nil), all[0]...)
	for _, w := range all[1:] {
		if len(w) != len(r) {
			return nil, types.DimensionMismatchf("allreduce lengths %d and %d", len(r), len(w))
		}
		for i := range r {
			r[i] = op(r[i], w[i])
		}
	}
	return
}

// AllreduceSum sums v element-wise over the members in member order, so
// every rank gets a bit-identical result. Collective.
func (c *Comm) AllreduceSum(v []float64) ([]float64, error) {
	return c.allreduce(v, func(acc, x float64) float64 { return acc + x })
}

// AllreduceMax is the element-wise maximum over the members. Collective.
func (c *Comm) AllreduceMax(v []float64) ([]float64, error) {
	return c.allreduce(v, func(acc, x float64) float64 {
		if x > acc {
			return x
		}
		return acc
	})
}

// Barrier returns once every member has entered it. Collective.
func (c *Comm) Barrier() error {
	_, err := c.Allgatherv(nil)
	return err
}
