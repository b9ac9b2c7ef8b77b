package comm

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// World is an in-process message-passing world. Each rank runs in its own
// goroutine and talks to the others through buffered mailboxes, so a send
// never blocks and a receive blocks only inside WaitAll.
type World struct {
	size int

	mu        sync.Mutex
	cond      *sync.Cond
	mailboxes map[mailboxKey][][]byte

	// collective rendezvous
	generation int
	arrived    int
	slots      [][]byte
	result     [][]byte

	metrics  *Metrics
	registry *prometheus.Registry
}

type mailboxKey struct {
	from, to int
	tag      Tag
}

// NewWorld creates a world of n ranks with its own metrics registry.
func NewWorld(n int) *World {
	if n < 1 {
		panic(fmt.Sprintf("comm: world size must be positive, got %d", n))
	}
	reg := prometheus.NewRegistry()
	w := &World{
		size:      n,
		mailboxes: make(map[mailboxKey][][]byte),
		slots:     make([][]byte, n),
		metrics:   NewMetrics(reg),
		registry:  reg,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

// Registry returns the registry holding the communication statistics.
func (w *World) Registry() *prometheus.Registry { return w.registry }

// Metrics returns the communication counters of the world.
func (w *World) Metrics() *Metrics { return w.metrics }

// Rank returns the communicator of rank r.
func (w *World) Rank(r int) Communicator {
	if r < 0 || r >= w.size {
		panic(fmt.Sprintf("comm: rank %d outside world of size %d", r, w.size))
	}
	return &rankComm{world: w, rank: r}
}

// Run executes fn once per rank, each in its own goroutine, and returns the
// joined errors of all ranks.
func (w *World) Run(fn func(c Communicator) error) error {
	errs := make([]error, w.size)
	var wg sync.WaitGroup
	for r := 0; r < w.size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			if err := fn(w.Rank(r)); err != nil {
				errs[r] = fmt.Errorf("rank %d: %w", r, err)
			}
		}(r)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (w *World) post(key mailboxKey, payload []byte) {
	w.mu.Lock()
	w.mailboxes[key] = append(w.mailboxes[key], payload)
	w.mu.Unlock()
	w.cond.Broadcast()
}

func (w *World) take(key mailboxKey) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.mailboxes[key]) == 0 {
		w.cond.Wait()
	}
	queue := w.mailboxes[key]
	payload := queue[0]
	if len(queue) == 1 {
		delete(w.mailboxes, key)
	} else {
		w.mailboxes[key] = queue[1:]
	}
	return payload
}

// gather is the rendezvous underlying every collective.
func (w *World) gather(rank int, payload []byte) [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	generation := w.generation
	w.slots[rank] = payload
	w.arrived++
	if w.arrived == w.size {
		w.result = w.slots
		w.slots = make([][]byte, w.size)
		w.arrived = 0
		w.generation++
		w.cond.Broadcast()
	} else {
		for w.generation == generation {
			w.cond.Wait()
		}
	}
	return w.result
}

type posted struct {
	key  mailboxKey
	into any
}

// rankComm is the Communicator of one rank inside a World. It is used by a
// single goroutine only.
type rankComm struct {
	world   *World
	rank    int
	pending []posted
}

func (c *rankComm) Rank() int { return c.rank }
func (c *rankComm) Size() int { return c.world.size }

func (c *rankComm) Isend(to int, tag Tag, record any) {
	if to < 0 || to >= c.world.size {
		panic(fmt.Sprintf("comm: send of %v to rank %d outside world", tag, to))
	}
	payload := Encode(record)
	c.world.metrics.sent(tag.Kind, len(payload))
	c.world.post(mailboxKey{from: c.rank, to: to, tag: tag}, payload)
}

func (c *rankComm) Irecv(from int, tag Tag, into any) {
	if from < 0 || from >= c.world.size {
		panic(fmt.Sprintf("comm: receive of %v from rank %d outside world", tag, from))
	}
	c.pending = append(c.pending, posted{key: mailboxKey{from: from, to: c.rank, tag: tag}, into: into})
}

func (c *rankComm) WaitAll() {
	for _, p := range c.pending {
		payload := c.world.take(p.key)
		c.world.metrics.received(p.key.tag.Kind)
		Decode(payload, p.into)
	}
	c.pending = nil
}

func (c *rankComm) AllGather(payload []byte) [][]byte {
	c.world.metrics.collective()
	return c.world.gather(c.rank, payload)
}

func (c *rankComm) allGatherFloat(v float64) []float64 {
	payloads := c.AllGather(Encode(v))
	out := make([]float64, len(payloads))
	for i, p := range payloads {
		Decode(p, &out[i])
	}
	return out
}

func (c *rankComm) AllReduceMin(v float64) float64 {
	lowest := math.Inf(1)
	for _, x := range c.allGatherFloat(v) {
		lowest = math.Min(lowest, x)
	}
	return lowest
}

// AllReduceSum adds the contributions in rank order so every rank obtains a
// bit-identical result.
func (c *rankComm) AllReduceSum(v float64) float64 {
	sum := 0.0
	for _, x := range c.allGatherFloat(v) {
		sum += x
	}
	return sum
}

func (c *rankComm) AllReduceOr(v bool) bool {
	flag := 0.0
	if v {
		flag = 1
	}
	for _, x := range c.allGatherFloat(flag) {
		if x != 0 {
			return true
		}
	}
	return false
}
