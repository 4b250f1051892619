package raknet

// decodeAckOrNak parses the record list out of an ACK or NAK datagram.
// The caller has already dispatched on the flag byte to know which one
// it is; decoding the body is identical either way.
func decodeAckOrNak(data []byte) ([]ackRecord, error) {
	r := newReader(data)
	if _, err := r.byte(); err != nil { // flag byte
		return nil, malformed(err)
	}
	records, err := decodeRecords(r)
	if err != nil {
		return nil, malformed(err)
	}
	return records, nil
}

// expandRecords flattens a coalesced record list back into individual
// sequence numbers. Recovery and pending-ack bookkeeping both operate
// per-sequence, so this is the inverse of coalesce.
func expandRecords(records []ackRecord) []uint32 {
	var out []uint32
	for _, rec := range records {
		for seq := rec.Start; seq <= rec.End; seq++ {
			out = append(out, seq)
			if seq == ^uint32(0) { // guard pathological End == max
				break
			}
		}
	}
	return out
}
