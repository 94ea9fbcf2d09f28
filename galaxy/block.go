package galaxy

import (
	"context"
	"runtime"

	"aikasim/logging"
	"aikasim/logging/simulation"
	"aikasim/simerr"
	"aikasim/world"
)

// Block accounts the sends and receives a single Planet observed during one
// fixed-width slice of simulation time. A send always belongs to the block
// it was issued in; a receive whose paired send landed in an earlier block
// is attributed back to that block via RecvsFromPrevious, indexed by how
// many blocks back the send occurred minus one (index 0 is the immediately
// preceding block). A receive from more than Lookback
// blocks back is rejected — the planet fell further out of sync with its
// peers than the coordinator is willing to reconstruct.
type Block struct {
	Start, End           uint64
	Sends, Recvs         uint64
	RecvsFromPrevious    []uint64
	WorldID, BlockNumber uint64
}

// NewBlock starts an empty Block spanning [start, end) for worldID.
func NewBlock(start, end, worldID, blockNumber uint64, lookback int) (Block, error) {
	if end <= start {
		return Block{}, simerr.ErrTimeTravel
	}
	return Block{
		Start:             start,
		End:               end,
		RecvsFromPrevious: make([]uint64, lookback),
		WorldID:           worldID,
		BlockNumber:       blockNumber,
	}, nil
}

// Send records one outbound message issued during this block.
func (b *Block) Send() { b.Sends++ }

// Recv records one inbound message, attributing it to the block its paired
// send actually belongs to when that send predates this block.
func (b *Block) Recv(sendTimestamp uint64) error {
	if sendTimestamp < b.Start {
		width := b.End - b.Start
		behind := (b.Start - sendTimestamp - 1) / width
		if int(behind) >= len(b.RecvsFromPrevious) {
			return &simerr.DistantBlocksError{Distance: int(behind)}
		}
		b.RecvsFromPrevious[behind]++
		return nil
	}
	b.Recvs++
	return nil
}

// blockTally is the coordinator's running conservation count for one block
// number: total sends every world reported for that number, against total
// receives attributed back to it (either immediately, or from a later
// block's RecvsFromPrevious).
type blockTally struct {
	sends, recvs uint64
	reported     int
}

// BlockCoordinator is the block-consensus GVT variant: rather than polling
// LVTs directly, every Planet periodically reports a completed Block, and
// GVT only advances past a block boundary once every world has reported
// that block AND the block's sends and receives reconcile — every message
// sent within it has a matching, accounted-for receive.
type BlockCoordinator[T any] struct {
	fabric      *Fabric[T]
	numWorlds   int
	blockWidth  uint64
	lookback    int
	timeInfo    world.TimeInfo
	pub         logging.Publisher
	reports     chan Block
	tallies     map[uint64]*blockTally
	gvt         uint64
	checkpoint  uint64
	checkpointF uint64
}

// NewBlockCoordinator constructs a BlockCoordinator for numWorlds, each
// reporting blocks of width blockWidth and reconstructing receives up to
// lookback blocks behind.
func NewBlockCoordinator[T any](numWorlds int, blockWidth uint64, lookback int, checkpointFrequency uint64, timeInfo world.TimeInfo, pub logging.Publisher) *BlockCoordinator[T] {
	if pub == nil {
		pub = logging.NopPublisher{}
	}
	return &BlockCoordinator[T]{
		fabric:      NewFabric[T](numWorlds, numWorlds*4+1),
		numWorlds:   numWorlds,
		blockWidth:  blockWidth,
		lookback:    lookback,
		timeInfo:    timeInfo,
		pub:         pub,
		reports:     make(chan Block, numWorlds*4),
		tallies:     make(map[uint64]*blockTally),
		checkpointF: checkpointFrequency,
	}
}

// Messenger returns worldID's Planet-facing messenger endpoint.
func (b *BlockCoordinator[T]) Messenger(worldID uint64) *Endpoint[T] { return b.fabric.Endpoint(worldID) }

// BlockWidth reports the fixed block width every Planet must report against.
func (b *BlockCoordinator[T]) BlockWidth() uint64 { return b.blockWidth }

// ReportBlock submits a Planet's completed Block for consensus.
func (b *BlockCoordinator[T]) ReportBlock(block Block) { b.reports <- block }

// GVT returns the coordinator's current global virtual time.
func (b *BlockCoordinator[T]) GVT() uint64 { return b.gvt }

// Run drains mail and block reports until every world's blocks reconcile
// through the terminal boundary.
func (b *BlockCoordinator[T]) Run(ctx context.Context) error {
	defer b.fabric.Close()
	terminalBlocks := uint64(float64(b.timeInfo.Terminal)/float64(b.blockWidth)) + 1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b.deliverMail()

		drained := false
	drainReports:
		for {
			select {
			case block := <-b.reports:
				b.absorb(block)
				drained = true
			default:
				break drainReports
			}
		}

		if b.advance() && b.gvt >= (terminalBlocks-1)*b.blockWidth {
			return nil
		}
		if !drained {
			runtime.Gosched()
		}
	}
}

func (b *BlockCoordinator[T]) deliverMail() {
	for {
		select {
		case m, ok := <-b.fabric.merged:
			if !ok {
				return
			}
			b.fabric.deliver(m)
		default:
			return
		}
	}
}

func (b *BlockCoordinator[T]) absorb(block Block) {
	t := b.tallies[block.BlockNumber]
	if t == nil {
		t = &blockTally{}
		b.tallies[block.BlockNumber] = t
	}
	t.sends += block.Sends
	t.recvs += block.Recvs
	t.reported++
	for behind, count := range block.RecvsFromPrevious {
		if count == 0 {
			continue
		}
		owner := block.BlockNumber - uint64(behind) - 1
		ot := b.tallies[owner]
		if ot == nil {
			ot = &blockTally{}
			b.tallies[owner] = ot
		}
		ot.recvs += count
	}
}

// advance walks block numbers from the current GVT boundary forward,
// committing GVT past every block number whose tally has reconciled (every
// world reported, sends == recvs) and stopping at the first that has not.
// It reports whether any progress was made this call.
func (b *BlockCoordinator[T]) advance() bool {
	progressed := false
	for {
		number := b.gvt / b.blockWidth
		t := b.tallies[number]
		if t == nil || t.reported < b.numWorlds || t.sends != t.recvs {
			return progressed
		}
		delete(b.tallies, number)
		previous := b.gvt
		b.gvt = (number + 1) * b.blockWidth
		simulation.GVTAdvance(context.Background(), b.pub, b.gvt, simulation.GVTAdvancePayload{
			PreviousGVT: previous,
			NewGVT:      b.gvt,
		}, nil)
		if b.gvt >= b.checkpoint {
			b.checkpoint = b.gvt + b.checkpointF
		}
		progressed = true
	}
}
