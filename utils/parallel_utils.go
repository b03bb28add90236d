package utils

import (
	"fmt"
)

// MailBox carries messages between NP ranks. Every ordered pair of ranks has
// its own FIFO channel, so two messages from the same sender to the same
// receiver arrive in the order they were posted.
type MailBox[T any] struct {
	NP           int
	MessageChans [][]chan T // [from][to]
	abort        <-chan struct{}
}

// NewMailBox allocates the pair channels. depth is the number of messages a
// sender may post ahead of its receiver before blocking. abort, when closed,
// releases every blocked Post and Receive.
func NewMailBox[T any](NP, depth int, abort <-chan struct{}) *MailBox[T] {
	mb := &MailBox[T]{
		NP:           NP,
		MessageChans: make([][]chan T, NP),
		abort:        abort,
	}
	for n := 0; n < NP; n++ {
		mb.MessageChans[n] = make([]chan T, NP)
		for m := 0; m < NP; m++ {
			mb.MessageChans[n][m] = make(chan T, depth)
		}
	}
	return mb
}

// PostMessage sends msg from myThread to targetThread. It returns false if
// the mailbox was aborted before the message could be queued.
func (mb *MailBox[T]) PostMessage(myThread, targetThread int, msg T) bool {
	if targetThread < 0 || targetThread > mb.NP-1 {
		panic(fmt.Sprintf("Target thread %d out of bounds", targetThread))
	}
	select {
	case mb.MessageChans[myThread][targetThread] <- msg:
		return true
	case <-mb.abort:
		return false
	}
}

// ReceiveMessage blocks until the next message from sourceThread arrives.
func (mb *MailBox[T]) ReceiveMessage(myThread, sourceThread int) (msg T, ok bool) {
	if sourceThread < 0 || sourceThread > mb.NP-1 {
		panic(fmt.Sprintf("Source thread %d out of bounds", sourceThread))
	}
	select {
	case msg = <-mb.MessageChans[sourceThread][myThread]:
		return msg, true
	case <-mb.abort:
		return msg, false
	}
}

// PartitionMap splits the index range [0,MaxIndex) into ParallelDegree
// contiguous buckets, the first MaxIndex%ParallelDegree one item larger.
type PartitionMap struct {
	MaxIndex       int // MaxIndex is partitioned into ParallelDegree partitions
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of partitions
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

// GetBucket finds the bucket holding index k, or -1 when k is out of range.
// The proportional guess is at most one bucket off.
func (pm *PartitionMap) GetBucket(k int) (bucketNum, min, max int) {
	if pm.MaxIndex == 0 || k < 0 || k >= pm.MaxIndex {
		return -1, 0, 0
	}
	bucketNum = int(float64(pm.ParallelDegree*k) / float64(pm.MaxIndex))
	for !(pm.Partitions[bucketNum][0] <= k && pm.Partitions[bucketNum][1] > k) {
		if pm.Partitions[bucketNum][0] > k {
			bucketNum--
		} else {
			bucketNum++
		}
		if bucketNum == -1 || bucketNum == pm.ParallelDegree {
			return -1, 0, 0
		}
	}
	min, max = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

// GetLocalK maps a global index to its offset inside the owning bucket bn,
// with the bucket size. bn is -1 for an index out of range.
func (pm *PartitionMap) GetLocalK(baseK int) (k, Kmax, bn int) {
	var (
		kmin, kmax int
	)
	if bn, kmin, kmax = pm.GetBucket(baseK); bn < 0 {
		return
	}
	Kmax = kmax - kmin
	k = baseK - kmin
	return
}

func (pm *PartitionMap) GetGlobalK(kLocal, bn int) (kGlobal int) {
	if bn == -1 {
		kGlobal = kLocal
		return
	}
	kGlobal = pm.Partitions[bn][0] + kLocal
	return
}

func (pm *PartitionMap) Split1D(threadNum int) (bucket [2]int) {
	// This routine splits one dimension into c.ParallelDegree pieces, with a maximum imbalance of one item
	var (
		Npart            = pm.MaxIndex / (pm.ParallelDegree)
		startAdd, endAdd int
		remainder        int
	)
	remainder = pm.MaxIndex % pm.ParallelDegree
	if remainder != 0 { // spread the remainder over the first chunks evenly
		if threadNum+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = threadNum
			endAdd = 1
		}
	}
	bucket[0] = threadNum*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}
