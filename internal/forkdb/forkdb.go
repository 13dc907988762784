// Package forkdb implements C2 of SPEC_FULL.md: a DAG of recently-seen
// blocks keyed by id with parent pointers, generalizing the teacher's
// single-level ChainForkManager (core/chain_fork_manager.go) into the full
// LCA/branch-query contract spec.md §4.6 requires.
package forkdb

import (
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
	"dexchaind/pkg/logging"
)

// Node is one block in the fork DAG.
type Node struct {
	ID       protocol.Hash
	Num      uint64
	Previous protocol.Hash
	Block    protocol.Block
	seenSeq  uint64 // insertion order, used as the earliest-seen tiebreaker
}

// ForkDB holds every block within the undo horizon as a DAG, keyed by id.
type ForkDB struct {
	nodes   map[protocol.Hash]*Node
	head    protocol.Hash
	seenSeq uint64
	log     bool
}

// New returns an empty fork DB; SetHead roots it at a known head (e.g. the
// archive's current tip on startup).
func New() *ForkDB {
	return &ForkDB{nodes: map[protocol.Hash]*Node{}, log: true}
}

// SetHead forcibly sets the current head pointer, used when bootstrapping
// from the block archive.
func (f *ForkDB) SetHead(id protocol.Hash) { f.head = id }

// Head returns the current preferred tip.
func (f *ForkDB) Head() (protocol.Hash, bool) {
	n, ok := f.nodes[f.head]
	if !ok {
		return protocol.Hash{}, false
	}
	return n.ID, true
}

// HeadNode returns the full node for the current head.
func (f *ForkDB) HeadNode() (*Node, bool) {
	n, ok := f.nodes[f.head]
	return n, ok
}

// Has reports whether id is already tracked.
func (f *ForkDB) Has(id protocol.Hash) bool {
	_, ok := f.nodes[id]
	return ok
}

// Get returns the tracked node for id.
func (f *ForkDB) Get(id protocol.Hash) (*Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

// Insert adds a block to the DAG and returns the chain-tip of the
// heaviest branch by block number, ties broken by earliest-seen (spec.md
// §4.6: "push_block(b) returns the chain-tip of the heaviest branch by
// block number").
func (f *ForkDB) Insert(id protocol.Hash, num uint64, previous protocol.Hash, b protocol.Block) *Node {
	n := &Node{ID: id, Num: num, Previous: previous, Block: b, seenSeq: f.seenSeq}
	f.seenSeq++
	f.nodes[id] = n

	if f.log {
		logging.Component("forkdb").WithFields(map[string]any{
			"block_id":  id,
			"block_num": num,
			"previous":  previous,
		}).Info("inserted block into fork database")
	}

	best := f.BestTip()
	if best != nil {
		f.head = best.ID
	}
	return n
}

// BestTip scans every tracked node and returns the one with the greatest
// block number, ties broken by earliest insertion. A node is a "tip" if no
// other tracked node names it as Previous.
func (f *ForkDB) BestTip() *Node {
	isParent := map[protocol.Hash]bool{}
	for _, n := range f.nodes {
		isParent[n.Previous] = true
	}
	var best *Node
	for _, n := range f.nodes {
		if isParent[n.ID] {
			continue // has a child, not a tip
		}
		if best == nil || n.Num > best.Num || (n.Num == best.Num && n.seenSeq < best.seenSeq) {
			best = n
		}
	}
	return best
}

// FetchBranchFrom returns the path from the LCA (exclusive) up to newHead,
// and the path from the same LCA (exclusive) up to oldHead — spec.md §4.6
// step 2: "(new_branch_from_LCA..new_head, old_branch_from_LCA..old_head)".
// Both slices are in forward (ancestor-to-descendant) order.
func (f *ForkDB) FetchBranchFrom(newHead, oldHead protocol.Hash) (newBranch, oldBranch []*Node, err error) {
	newPath, err := f.pathToRoot(newHead)
	if err != nil {
		return nil, nil, err
	}
	oldPath, err := f.pathToRoot(oldHead)
	if err != nil {
		return nil, nil, err
	}

	newSet := make(map[protocol.Hash]int, len(newPath))
	for i, n := range newPath {
		newSet[n.ID] = i
	}

	var lcaIdxNew, lcaIdxOld int = -1, -1
	for j, n := range oldPath {
		if i, ok := newSet[n.ID]; ok {
			lcaIdxNew, lcaIdxOld = i, j
			break
		}
	}
	if lcaIdxNew == -1 {
		return nil, nil, errs.New(errs.KindInternal, "no common ancestor between branches")
	}

	// newPath/oldPath are root-ward (descendant..ancestor); reverse the
	// prefix up to (not including) the LCA to get ancestor-to-descendant
	// order.
	newBranch = reverse(newPath[:lcaIdxNew])
	oldBranch = reverse(oldPath[:lcaIdxOld])
	return newBranch, oldBranch, nil
}

// pathToRoot walks Previous pointers from id back to the node with no
// tracked parent, returning [id, parent(id), grandparent(id), ...].
func (f *ForkDB) pathToRoot(id protocol.Hash) ([]*Node, error) {
	var path []*Node
	cur := id
	for {
		n, ok := f.nodes[cur]
		if !ok {
			if len(path) == 0 {
				return nil, errs.New(errs.KindInternal, "unknown block id")
			}
			return path, nil
		}
		path = append(path, n)
		if _, ok := f.nodes[n.Previous]; !ok {
			return path, nil
		}
		cur = n.Previous
	}
}

func reverse(in []*Node) []*Node {
	out := make([]*Node, len(in))
	for i, n := range in {
		out[len(in)-1-i] = n
	}
	return out
}

// Prune removes every node below minNum, keeping the DAG from
// growing unbounded past the undo horizon.
func (f *ForkDB) Prune(minNum uint64) {
	for id, n := range f.nodes {
		if n.Num < minNum {
			delete(f.nodes, id)
		}
	}
}

// Remove deletes a single node, used when a branch fails to apply and must
// be evicted from the fork DB (spec.md §4.6 step 4).
func (f *ForkDB) Remove(id protocol.Hash) {
	delete(f.nodes, id)
}
