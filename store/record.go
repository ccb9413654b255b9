package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// StreamCount is the number of sample streams carried by every record:
// the master (original audio) followed by the four stems.
const StreamCount = 5

// maxRecordSize bounds the length prefix accepted by ReadRecord.
const maxRecordSize = 1 << 31

const (
	fieldPackets     protowire.Number = 1
	fieldStreams     protowire.Number = 2
	fieldSampleCount protowire.Number = 3

	fieldPacketData    protowire.Number = 1
	fieldStreamSamples protowire.Number = 1
)

// Record is one unit of the append log.
type Record struct {
	// Packets holds raw container packets of the original audio. It is only
	// populated when the original is preserved losslessly.
	Packets [][]byte
	// Streams holds StreamCount interleaved stereo buffers of equal length.
	Streams [][]float32
	// SampleCount is the length of every stream, in float samples.
	SampleCount uint64
}

// Frames returns the number of stereo frames in the record.
func (r Record) Frames() uint64 {
	return r.SampleCount / 2
}

func validateStreams(streams [][]float32) error {
	if len(streams) != StreamCount {
		return fmt.Errorf("%w: expected %d buffers, got %d", ErrInvalidBufferShape, StreamCount, len(streams))
	}
	n := len(streams[0])
	for i, s := range streams[1:] {
		if len(s) != n {
			return fmt.Errorf("%w: buffer %d has %d samples, buffer 0 has %d", ErrInvalidBufferShape, i+1, len(s), n)
		}
	}
	if n%2 != 0 {
		return fmt.Errorf("%w: odd sample count %d for stereo buffers", ErrInvalidBufferShape, n)
	}
	return nil
}

func packetSize(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	return protowire.SizeTag(fieldPacketData) + protowire.SizeBytes(len(p))
}

func streamSize(s []float32) int {
	if len(s) == 0 {
		return 0
	}
	return protowire.SizeTag(fieldStreamSamples) + protowire.SizeBytes(4*len(s))
}

func bodySize(rec Record) int {
	n := 0
	for _, p := range rec.Packets {
		n += protowire.SizeTag(fieldPackets) + protowire.SizeBytes(packetSize(p))
	}
	for _, s := range rec.Streams {
		n += protowire.SizeTag(fieldStreams) + protowire.SizeBytes(streamSize(s))
	}
	if rec.SampleCount != 0 {
		n += protowire.SizeTag(fieldSampleCount) + protowire.SizeVarint(rec.SampleCount)
	}
	return n
}

// EncodedLen returns the size of the length-delimited encoding of rec.
func EncodedLen(rec Record) int {
	n := bodySize(rec)
	return protowire.SizeVarint(uint64(n)) + n
}

// EncodeRecord returns the length-delimited encoding of rec.
func EncodeRecord(rec Record) []byte {
	return AppendRecord(make([]byte, 0, EncodedLen(rec)), rec)
}

// AppendRecord appends the length-delimited encoding of rec to dst.
//
// The body uses the protobuf wire format: repeated packet messages (field 1),
// repeated stream messages holding packed floats (field 2) and the sample
// count (field 3). The body is prefixed with its length as a varint.
func AppendRecord(dst []byte, rec Record) []byte {
	dst = protowire.AppendVarint(dst, uint64(bodySize(rec)))
	for _, p := range rec.Packets {
		dst = protowire.AppendTag(dst, fieldPackets, protowire.BytesType)
		dst = protowire.AppendVarint(dst, uint64(packetSize(p)))
		if len(p) > 0 {
			dst = protowire.AppendTag(dst, fieldPacketData, protowire.BytesType)
			dst = protowire.AppendBytes(dst, p)
		}
	}
	for _, s := range rec.Streams {
		dst = protowire.AppendTag(dst, fieldStreams, protowire.BytesType)
		dst = protowire.AppendVarint(dst, uint64(streamSize(s)))
		if len(s) > 0 {
			dst = protowire.AppendTag(dst, fieldStreamSamples, protowire.BytesType)
			dst = protowire.AppendVarint(dst, uint64(4*len(s)))
			for _, v := range s {
				dst = protowire.AppendFixed32(dst, math.Float32bits(v))
			}
		}
	}
	if rec.SampleCount != 0 {
		dst = protowire.AppendTag(dst, fieldSampleCount, protowire.VarintType)
		dst = protowire.AppendVarint(dst, rec.SampleCount)
	}
	return dst
}

func corrupt(what string, n int) error {
	return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, what, protowire.ParseError(n))
}

// DecodeRecord decodes one length-delimited record from the start of b and
// returns it with the number of bytes consumed. Packet data is copied, so the
// record stays valid after b is released.
func DecodeRecord(b []byte) (Record, int, error) {
	size, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return Record{}, 0, corrupt("length prefix", n)
	}
	if size > uint64(len(b)-n) {
		return Record{}, 0, fmt.Errorf("%w: declared %d bytes, %d remaining", ErrCorruptRecord, size, len(b)-n)
	}
	end := n + int(size)
	rec, err := decodeBody(b[n:end])
	if err != nil {
		return Record{}, 0, err
	}
	return rec, end, nil
}

type byteReader interface {
	io.Reader
	io.ByteReader
}

// ReadRecord decodes the next length-delimited record from r. It returns
// io.EOF when r is exhausted at a record boundary.
func ReadRecord(r byteReader) (Record, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: length prefix: %v", ErrCorruptRecord, err)
	}
	if size > maxRecordSize {
		return Record{}, fmt.Errorf("%w: declared length %d too large", ErrCorruptRecord, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, fmt.Errorf("%w: declared %d bytes: %v", ErrCorruptRecord, size, err)
	}
	return decodeBody(body)
}

func decodeBody(b []byte) (Record, error) {
	var rec Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, corrupt("tag", n)
		}
		b = b[n:]
		switch {
		case num == fieldPackets && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Record{}, corrupt("packet", n)
			}
			p, err := decodePacket(v)
			if err != nil {
				return Record{}, err
			}
			rec.Packets = append(rec.Packets, p)
			b = b[n:]
		case num == fieldStreams && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Record{}, corrupt("stream", n)
			}
			s, err := decodeStream(v)
			if err != nil {
				return Record{}, err
			}
			rec.Streams = append(rec.Streams, s)
			b = b[n:]
		case num == fieldSampleCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, corrupt("sample count", n)
			}
			rec.SampleCount = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, corrupt("unknown field", n)
			}
			b = b[n:]
		}
	}

	if len(rec.Streams) != StreamCount {
		return Record{}, fmt.Errorf("%w: expected %d streams, got %d", ErrCorruptRecord, StreamCount, len(rec.Streams))
	}
	for i, s := range rec.Streams {
		if uint64(len(s)) != rec.SampleCount {
			return Record{}, fmt.Errorf("%w: stream %d has %d samples, record declares %d", ErrCorruptRecord, i, len(s), rec.SampleCount)
		}
	}
	return rec, nil
}

func decodePacket(b []byte) ([]byte, error) {
	var data []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt("packet tag", n)
		}
		b = b[n:]
		if num == fieldPacketData && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, corrupt("packet data", n)
			}
			data = append(data[:0], v...)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, corrupt("packet field", n)
		}
		b = b[n:]
	}
	return data, nil
}

func decodeStream(b []byte) ([]float32, error) {
	var samples []float32
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt("stream tag", n)
		}
		b = b[n:]
		switch {
		case num == fieldStreamSamples && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, corrupt("packed samples", n)
			}
			if len(v)%4 != 0 {
				return nil, fmt.Errorf("%w: packed samples of %d bytes", ErrCorruptRecord, len(v))
			}
			if samples == nil {
				samples = make([]float32, 0, len(v)/4)
			}
			for i := 0; i < len(v); i += 4 {
				samples = append(samples, math.Float32frombits(binary.LittleEndian.Uint32(v[i:])))
			}
			b = b[n:]
		case num == fieldStreamSamples && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, corrupt("sample", n)
			}
			samples = append(samples, math.Float32frombits(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, corrupt("stream field", n)
			}
			b = b[n:]
		}
	}
	return samples, nil
}

// scanRecord reads the sample count of the record at the start of b without
// decoding its payload, and returns it with the record's encoded size.
func scanRecord(b []byte) (uint64, int, error) {
	size, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, corrupt("length prefix", n)
	}
	if size > uint64(len(b)-n) {
		return 0, 0, fmt.Errorf("%w: declared %d bytes, %d remaining", ErrCorruptRecord, size, len(b)-n)
	}
	end := n + int(size)
	body := b[n:end]
	var count uint64
	for len(body) > 0 {
		num, typ, m := protowire.ConsumeTag(body)
		if m < 0 {
			return 0, 0, corrupt("tag", m)
		}
		body = body[m:]
		if num == fieldSampleCount && typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(body)
			if m < 0 {
				return 0, 0, corrupt("sample count", m)
			}
			count = v
			body = body[m:]
			continue
		}
		m = protowire.ConsumeFieldValue(num, typ, body)
		if m < 0 {
			return 0, 0, corrupt("field", m)
		}
		body = body[m:]
	}
	return count, end, nil
}
