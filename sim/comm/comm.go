// Package comm is the message-passing abstraction the grid core runs on.
//
// Every rank runs the same control program. Point-to-point traffic is issued
// as a batch of non-blocking sends and receives which is completed by exactly
// one WaitAll; collectives must be called by all ranks in the same order.
// A received record whose shape differs from what the receiver expects means
// the ranks diverged and is fatal.
package comm

import (
	"fmt"

	"github.com/blockforest/blockforest/sim/nodeid"
)

// Kind names the logical exchange a message belongs to.
type Kind uint8

const (
	KindHalo Kind = iota + 1
	KindHaloParent
	KindInterfaceTags
	KindAverage
	KindJumpRestrict
	KindJumpExchange
	KindRemeshIndicator
	KindBalance
)

var kindNames = map[Kind]string{
	KindHalo:            "halo",
	KindHaloParent:      "halo_parent",
	KindInterfaceTags:   "interface_tags",
	KindAverage:         "average",
	KindJumpRestrict:    "jump_restrict",
	KindJumpExchange:    "jump_exchange",
	KindRemeshIndicator: "remesh_indicator",
	KindBalance:         "balance",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind_%d", uint8(k))
}

// Tag identifies one message slot. Epoch is the exchange epoch of the
// topology directory at the time of the exchange; it changes on every
// structural commit so a tag can never match an exchange of an older shape.
type Tag struct {
	Epoch uint64
	Kind  Kind
	Node  nodeid.ID // node whose buffer is filled on the receiving side
	Face  int       // face or child index, -1 if unused
	Aux   int       // category or buffer index, 0 if unused
}

func (t Tag) String() string {
	return fmt.Sprintf("%v@%d[%v face=%d aux=%d]", t.Kind, t.Epoch, t.Node, t.Face, t.Aux)
}

// Communicator is the per-rank handle to the message-passing world.
type Communicator interface {
	Rank() int
	Size() int

	// Isend queues record for delivery to rank to. The record is encoded
	// immediately, so the caller may reuse its buffers after the call.
	Isend(to int, tag Tag, record any)
	// Irecv registers into (a pointer to a record) as the destination of
	// the message with the given tag from rank from. It is filled by WaitAll.
	Irecv(from int, tag Tag, into any)
	// WaitAll completes every receive posted since the previous WaitAll.
	WaitAll()

	AllGather(payload []byte) [][]byte
	AllReduceMin(v float64) float64
	AllReduceSum(v float64) float64
	AllReduceOr(v bool) bool
}

// Pending pairs a posted receive with the action applying its payload once
// WaitAll returned. Exchanges collect these to keep unpacking after the wait.
type Pending struct {
	apply func()
}

// Batch collects the unpack actions of one exchange phase.
type Batch struct {
	c       Communicator
	pending []Pending
}

// NewBatch starts a new exchange phase on c.
func NewBatch(c Communicator) *Batch {
	return &Batch{c: c}
}

// Send forwards to Isend.
func (b *Batch) Send(to int, tag Tag, record any) {
	b.c.Isend(to, tag, record)
}

// Receive posts a receive into record and runs apply after the wait.
func (b *Batch) Receive(from int, tag Tag, record any, apply func()) {
	b.c.Irecv(from, tag, record)
	b.pending = append(b.pending, Pending{apply: apply})
}

// Wait completes the phase: one WaitAll, then every unpack action in posting
// order.
func (b *Batch) Wait() {
	b.c.WaitAll()
	for _, p := range b.pending {
		p.apply()
	}
	b.pending = nil
}

// PackAux folds a buffer category and a material into the Aux field of a tag.
func PackAux(category, material int) int {
	return category<<8 | material
}
