// Package blockstore implements C3 of SPEC_FULL.md: an append-only,
// id-and-number-addressable block archive, grounded on the teacher's WAL
// idiom in core/ledger.go (os.OpenFile with O_APPEND, bufio.Scanner
// replay) generalized into a permanent number-indexed archive separate
// from the transient pending-block journal (spec.md §6.2).
package blockstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
	"dexchaind/pkg/logging"
)

// Store is the append-only block archive. Writes are fsync'd before the
// in-memory offset index is updated, per spec.md §6.2's
// write-then-index-update crash-safety ordering.
type Store struct {
	mu        sync.RWMutex
	file      *os.File
	byNumber  map[uint64]int64 // block num -> byte offset
	byID      map[protocol.Hash]uint64
	nextWrite int64
}

// Open opens (creating if needed) the archive at path and replays its
// existing contents into the offset index.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "open block archive")
	}
	s := &Store{file: f, byNumber: map[uint64]int64{}, byID: map[protocol.Hash]uint64{}}
	if err := s.replay(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

type archiveEntry struct {
	Num   uint64
	ID    protocol.Hash
	Block protocol.Block
}

func (s *Store) replay() error {
	if _, err := s.file.Seek(0, 0); err != nil {
		return errs.Wrap(errs.KindInternal, err, "seek archive")
	}
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	var offset int64
	for scanner.Scan() {
		line := scanner.Bytes()
		var e archiveEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return errs.Wrap(errs.KindInternal, err, "replay archive entry")
		}
		if old, ok := s.idForNumberLocked(e.Num); ok {
			delete(s.byID, old)
		}
		s.byNumber[e.Num] = offset
		s.byID[e.ID] = e.Num
		offset += int64(len(line)) + 1
		logging.Component("blockstore").WithField("block_num", e.Num).Debug("replayed archived block")
	}
	if err := scanner.Err(); err != nil {
		return errs.Wrap(errs.KindInternal, err, "scan archive")
	}
	s.nextWrite = offset
	if _, err := s.file.Seek(0, 2); err != nil {
		return errs.Wrap(errs.KindInternal, err, "seek archive end")
	}
	return nil
}

// Append writes a block to the archive, fsyncing before updating the
// in-memory index (spec.md §6.2).
func (s *Store) Append(num uint64, id protocol.Hash, b protocol.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := archiveEntry{Num: num, ID: id, Block: b}
	line, err := json.Marshal(e)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshal archive entry")
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		return errs.Wrap(errs.KindInternal, err, "write archive entry")
	}
	if err := s.file.Sync(); err != nil {
		return errs.Wrap(errs.KindInternal, err, "fsync archive")
	}
	s.byNumber[num] = s.nextWrite
	s.byID[id] = num
	s.nextWrite += int64(len(line))
	return nil
}

// GetByNumber reads the block stored at num.
func (s *Store) GetByNumber(num uint64) (protocol.Block, error) {
	s.mu.RLock()
	offset, ok := s.byNumber[num]
	s.mu.RUnlock()
	if !ok {
		return protocol.Block{}, errs.New(errs.KindInternal, fmt.Sprintf("block %d not archived", num))
	}
	return s.readAt(offset)
}

// GetByID reads the block with the given id, if archived.
func (s *Store) GetByID(id protocol.Hash) (protocol.Block, uint64, error) {
	s.mu.RLock()
	num, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return protocol.Block{}, 0, errs.New(errs.KindInternal, "block id not archived")
	}
	b, err := s.GetByNumber(num)
	return b, num, err
}

func (s *Store) readAt(offset int64) (protocol.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.file.Seek(offset, 0); err != nil {
		return protocol.Block{}, errs.Wrap(errs.KindInternal, err, "seek archive read")
	}
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	if !scanner.Scan() {
		return protocol.Block{}, errs.New(errs.KindInternal, "archive read past end")
	}
	var e archiveEntry
	if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
		return protocol.Block{}, errs.Wrap(errs.KindInternal, err, "unmarshal archive entry")
	}
	return e.Block, nil
}

// Unindex removes num from the queryable index without touching the
// underlying append-only file, used by pop_block (spec.md §4.6: "removes
// the block from the number-indexed archive"). The on-disk entry is left
// in place. Replay on the next Open indexes entries in file order, so a
// block appended later at the same number replaces the popped entry in
// both indices; a popped entry with no later replacement is indexed again.
func (s *Store) Unindex(num uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.idForNumberLocked(num); ok {
		delete(s.byID, id)
	}
	delete(s.byNumber, num)
}

// IDForNumber returns the archived id for block num, if still indexed.
func (s *Store) IDForNumber(num uint64) (protocol.Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idForNumberLocked(num)
}

func (s *Store) idForNumberLocked(num uint64) (protocol.Hash, bool) {
	for id, n := range s.byID {
		if n == num {
			return id, true
		}
	}
	return protocol.Hash{}, false
}

// Head returns the highest archived block number, and whether any block
// has been archived at all.
func (s *Store) Head() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max uint64
	found := false
	for n := range s.byNumber {
		if !found || n > max {
			max, found = n, true
		}
	}
	return max, found
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.file.Close()
}
