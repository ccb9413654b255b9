package store

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"
)

func testRecord(frames int, packets ...[]byte) Record {
	streams := make([][]float32, StreamCount)
	for i := range streams {
		streams[i] = make([]float32, frames*2)
		for j := range streams[i] {
			streams[i][j] = float32(i*1000+j) * 0.25
		}
	}
	return Record{Packets: packets, Streams: streams, SampleCount: uint64(frames * 2)}
}

func equalRecords(a, b Record) bool {
	if a.SampleCount != b.SampleCount || len(a.Packets) != len(b.Packets) || len(a.Streams) != len(b.Streams) {
		return false
	}
	for i := range a.Packets {
		if !bytes.Equal(a.Packets[i], b.Packets[i]) {
			return false
		}
	}
	for i := range a.Streams {
		if len(a.Streams[i]) != len(b.Streams[i]) {
			return false
		}
		for j := range a.Streams[i] {
			if a.Streams[i][j] != b.Streams[i][j] {
				return false
			}
		}
	}
	return true
}

func TestRecordRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{name: "no packets", rec: testRecord(50)},
		{name: "with packets", rec: testRecord(8, []byte{0xff, 0xfb, 0x90}, []byte("frame"))},
		{name: "empty streams", rec: testRecord(0)},
		{name: "large record", rec: testRecord(4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := EncodeRecord(tt.rec)
			if len(b) != EncodedLen(tt.rec) {
				t.Fatalf("EncodedLen() = %d, encoded %d bytes", EncodedLen(tt.rec), len(b))
			}
			got, n, err := DecodeRecord(b)
			if err != nil {
				t.Fatalf("DecodeRecord() error = %v", err)
			}
			if n != len(b) {
				t.Errorf("DecodeRecord() consumed %d bytes, want %d", n, len(b))
			}
			if !equalRecords(got, tt.rec) {
				t.Errorf("DecodeRecord() = %+v, want %+v", got, tt.rec)
			}

			count, size, err := scanRecord(b)
			if err != nil {
				t.Fatalf("scanRecord() error = %v", err)
			}
			if count != tt.rec.SampleCount || size != len(b) {
				t.Errorf("scanRecord() = (%d, %d), want (%d, %d)", count, size, tt.rec.SampleCount, len(b))
			}
		})
	}
}

func TestReadRecordSequence(t *testing.T) {
	recs := []Record{testRecord(3), testRecord(10, []byte{1, 2}), testRecord(1)}
	var buf []byte
	for _, r := range recs {
		buf = AppendRecord(buf, r)
	}

	r := bufio.NewReader(bytes.NewReader(buf))
	for i, want := range recs {
		got, err := ReadRecord(r)
		if err != nil {
			t.Fatalf("ReadRecord() #%d error = %v", i, err)
		}
		if !equalRecords(got, want) {
			t.Errorf("ReadRecord() #%d mismatch", i)
		}
	}
	if _, err := ReadRecord(r); err != io.EOF {
		t.Errorf("ReadRecord() at end error = %v, want io.EOF", err)
	}
}

func TestDecodeRecordCorrupt(t *testing.T) {
	good := EncodeRecord(testRecord(4))

	fourStreams := testRecord(4)
	fourStreams.Streams = fourStreams.Streams[:4]

	badCount := testRecord(4)
	badCount.SampleCount = 6

	tests := []struct {
		name string
		data []byte
	}{
		{name: "truncated body", data: good[:len(good)-3]},
		{name: "length beyond data", data: []byte{0x80, 0x01, 0x00}},
		{name: "bad varint", data: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{name: "four streams", data: EncodeRecord(fourStreams)},
		{name: "declared count mismatch", data: EncodeRecord(badCount)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeRecord(tt.data)
			if !errors.Is(err, ErrCorruptRecord) {
				t.Errorf("DecodeRecord() error = %v, want ErrCorruptRecord", err)
			}
		})
	}
}

func TestValidateStreams(t *testing.T) {
	tests := []struct {
		name    string
		streams [][]float32
		wantErr bool
	}{
		{name: "five equal", streams: [][]float32{{0, 1}, {0, 1}, {0, 1}, {0, 1}, {0, 1}}},
		{name: "four buffers", streams: [][]float32{{0, 1}, {0, 1}, {0, 1}, {0, 1}}, wantErr: true},
		{name: "uneven", streams: [][]float32{{0, 1}, {0, 1}, {0, 1, 2, 3}, {0, 1}, {0, 1}}, wantErr: true},
		{name: "odd length", streams: [][]float32{{0}, {0}, {0}, {0}, {0}}, wantErr: true},
		{name: "none", streams: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStreams(tt.streams)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateStreams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidBufferShape) {
				t.Errorf("validateStreams() error = %v, want ErrInvalidBufferShape", err)
			}
		})
	}
}
