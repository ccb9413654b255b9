package store

import (
	"log/slog"
	"math"
	"sort"
)

// Seek moves the read position to progress (clamped to [0, 1]) of the total
// sample count, rounded down to a whole stereo frame, and returns the new
// sample position. The record containing that position is decoded and its
// remainder becomes the next data returned by Read.
func (s *Store) Seek(progress float32) (uint64, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if !s.sealed {
		return 0, ErrNotSealed
	}
	if err := s.buildIndex(); err != nil {
		return 0, err
	}

	p := float64(progress)
	if math.IsNaN(p) || p < 0 {
		p = 0
	}
	p = min(p, 1)
	target := uint64(p * float64(s.total))
	target = min(target-target%2, s.total)

	s.partial = nil
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].SampleOffset > target
	}) - 1
	if i < 0 {
		s.offset = 0
		s.position = 0
		return 0, nil
	}

	e := s.entries[i]
	s.offset = e.ByteOffset
	s.position = target
	skip := int(target - e.SampleOffset)
	if skip == 0 {
		return target, nil
	}

	rec, size, err := DecodeRecord(s.data[s.offset:s.end()])
	if err != nil {
		return 0, err
	}
	s.offset += size
	if skip < int(rec.SampleCount) {
		s.partial = &partialChunk{rec: rec, offset: skip}
	}
	return target, nil
}

// buildIndex scans record headers once to recover the record index of a
// handle opened from an existing file.
func (s *Store) buildIndex() error {
	if s.indexed {
		return nil
	}
	var (
		entries []Entry
		samples uint64
	)
	for off := 0; off < s.end(); {
		count, size, err := scanRecord(s.data[off:s.end()])
		if err != nil {
			return err
		}
		entries = append(entries, Entry{ByteOffset: off, SampleOffset: samples})
		samples += count
		off += size
	}
	if samples != s.total {
		s.logger.Warn("Trailer disagrees with record index",
			slog.Uint64("trailer", s.total), slog.Uint64("indexed", samples))
	}
	s.entries = entries
	s.indexed = true
	return nil
}

// ForEach decodes every record from the start of a sealed store and calls fn
// with it. The read position is left untouched.
func (s *Store) ForEach(fn func(Record) error) error {
	if err := s.usable(); err != nil {
		return err
	}
	if !s.sealed {
		return ErrNotSealed
	}
	for off := 0; off < s.end(); {
		rec, size, err := DecodeRecord(s.data[off:s.end()])
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		off += size
	}
	return nil
}
