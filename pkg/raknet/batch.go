package raknet

// Batch is a datagram-sized envelope of frames, identified by a 24-bit
// sequence number.
type Batch struct {
	SequenceNumber uint32
	Frames         []*Frame
}

func (b *Batch) encode(w *writer) {
	w.byte(flagDatagram)
	w.uint24LE(b.SequenceNumber)
	for _, f := range b.Frames {
		f.encode(w)
	}
}

// Encode serializes the batch to a fresh byte slice.
func (b *Batch) Encode() []byte {
	w := newWriter()
	b.encode(w)
	return w.Bytes()
}

// size is the serialized size of the batch. The client's batch packer
// tracks sizes itself and does not call it.
func (b *Batch) size() int {
	total := frameBatchOverhead
	for _, f := range b.Frames {
		total += f.wireSize()
	}
	return total
}

// containsReliable reports whether any frame in the batch must be
// retained in the recovery buffer.
func (b *Batch) containsReliable() bool {
	for _, f := range b.Frames {
		if f.Reliability.IsReliable() {
			return true
		}
	}
	return false
}

// decodeBatch parses a frame batch out of data, which must already have
// had its leading flag byte identified as a datagram (not ACK/NAK).
// Parsing must consume the whole
// datagram with no leftover; decodeBatch enforces that by looping until
// the reader is exhausted rather than trusting an embedded frame count.
func decodeBatch(data []byte) (*Batch, error) {
	r := newReader(data)
	r.offset = 1 // skip flag byte, already inspected by the caller

	seq, err := r.uint24LE()
	if err != nil {
		return nil, malformed(err)
	}

	batch := &Batch{SequenceNumber: seq}
	for r.remaining() > 0 {
		frame, err := decodeFrame(r)
		if err != nil {
			return nil, malformed(err)
		}
		batch.Frames = append(batch.Frames, frame)
	}
	return batch, nil
}

// ackRecord is either a single sequence number (Start == End) or an
// inclusive range, as carried on the wire in ACK/NAK packets.
type ackRecord struct {
	Start, End uint32
}

// coalesce sorts and deduplicates seqs, then merges consecutive runs
// into ranges. The caller is expected to pass in a slice it no longer
// needs; coalesce sorts it in place.
func coalesce(seqs []uint32) []ackRecord {
	if len(seqs) == 0 {
		return nil
	}
	sortUint32s(seqs)

	records := make([]ackRecord, 0, len(seqs))
	start := seqs[0]
	prev := seqs[0]
	for _, s := range seqs[1:] {
		if s == prev {
			continue // dedup
		}
		if s == prev+1 {
			prev = s
			continue
		}
		records = append(records, ackRecord{Start: start, End: prev})
		start, prev = s, s
	}
	records = append(records, ackRecord{Start: start, End: prev})
	return records
}

// sortUint32s is a tiny insertion sort kept local to avoid pulling
// in sort.Slice's reflection overhead on the hot ACK-send path; the
// record lists involved are small (bounded by one tick's worth of
// received batches).
func sortUint32s(s []uint32) {
	for i := 1; i < len(s); i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}
}

// encodeRecords writes an ACK or NAK packet: flag byte, a 16-bit
// little-endian record count, then each record as a 1-byte discriminator (0x01 = single, 0x00 = range) followed by
// either one or two 24-bit little-endian sequence numbers.
func encodeRecords(flag byte, records []ackRecord) []byte {
	w := newWriter()
	w.byte(flag)
	count := uint16(len(records))
	w.byte(byte(count))
	w.byte(byte(count >> 8))
	for _, rec := range records {
		if rec.Start == rec.End {
			w.byte(0x01)
			w.uint24LE(rec.Start)
		} else {
			w.byte(0x00)
			w.uint24LE(rec.Start)
			w.uint24LE(rec.End)
		}
	}
	return w.Bytes()
}

// EncodeACK builds a positive-acknowledgement packet for the given
// (already deduplicated) sequence numbers.
func EncodeACK(seqs []uint32) []byte {
	return encodeRecords(flagDatagram|flagACK, coalesce(seqs))
}

// EncodeNAK builds a negative-acknowledgement packet requesting resend
// of the given sequence numbers.
func EncodeNAK(seqs []uint32) []byte {
	return encodeRecords(flagDatagram|flagNAK, coalesce(seqs))
}

// decodeRecords reads back the record list written by encodeRecords. The
// flag byte itself must already be consumed by the caller.
func decodeRecords(r *reader) ([]ackRecord, error) {
	count, err := r.uint16LE()
	if err != nil {
		return nil, err
	}
	records := make([]ackRecord, 0, count)
	for i := uint16(0); i < count; i++ {
		single, err := r.byte()
		if err != nil {
			return nil, err
		}
		start, err := r.uint24LE()
		if err != nil {
			return nil, err
		}
		if single == 0x01 {
			records = append(records, ackRecord{Start: start, End: start})
			continue
		}
		end, err := r.uint24LE()
		if err != nil {
			return nil, err
		}
		records = append(records, ackRecord{Start: start, End: end})
	}
	return records, nil
}
