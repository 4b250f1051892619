package raknet

import "time"

// compound is the reassembly buffer for one fragmented frame. It is
// removed once every fragment has arrived, once it exceeds
// MaxCompoundSize, or once it has existed for longer than CompoundTimeout
// without completing.
type compound struct {
	id       uint16
	total    uint32
	size     uint32 // declared fragment count (CompoundSize), from the first fragment seen
	slots    map[uint32]*Frame
	created  time.Time
	template *Frame // a fragment, used to recover shared reliability/order fields
}

func newCompound(first *Frame) *compound {
	return &compound{
		id:       first.CompoundID,
		total:    first.CompoundSize,
		size:     first.CompoundSize,
		slots:    make(map[uint32]*Frame),
		created:  time.Now(),
		template: first,
	}
}

// add inserts fragment f. It returns the reassembled virtual frame once
// every fragment 0..total-1 has been seen, or nil while incomplete. An
// error is returned (never a partial frame) when the aggregate payload
// would exceed MaxCompoundSize — oversized incoming compounds are
// dropped rather than assembled.
func (c *compound) add(f *Frame) (*Frame, error) {
	c.slots[f.CompoundIndex] = f

	var total int
	for _, frag := range c.slots {
		total += len(frag.Payload)
	}
	if total > MaxCompoundSize {
		return nil, errCompoundTooLarge
	}

	if uint32(len(c.slots)) < c.total {
		return nil, nil
	}

	payload := make([]byte, 0, total)
	for i := uint32(0); i < c.total; i++ {
		frag, ok := c.slots[i]
		if !ok {
			return nil, nil // shouldn't happen given the length check above
		}
		payload = append(payload, frag.Payload...)
	}

	reassembled := &Frame{
		Reliability:  c.template.Reliability,
		ReliableIndex: c.template.ReliableIndex,
		SequenceIndex: c.template.SequenceIndex,
		OrderIndex:    c.template.OrderIndex,
		OrderChannel:  c.template.OrderChannel,
		Payload:       payload,
	}
	return reassembled, nil
}

// compoundSet owns every in-flight compound for one client, keyed by
// compound id.
type compoundSet struct {
	byID map[uint16]*compound
}

func newCompoundSet() *compoundSet {
	return &compoundSet{byID: make(map[uint16]*compound)}
}

// insert feeds fragment f into its compound, creating one if this is the
// first fragment seen for that id. It returns the reassembled frame when
// complete (and removes the compound), or nil while still assembling.
func (s *compoundSet) insert(f *Frame) (*Frame, error) {
	c, ok := s.byID[f.CompoundID]
	if !ok {
		c = newCompound(f)
		s.byID[f.CompoundID] = c
	}

	result, err := c.add(f)
	if err != nil || result != nil {
		delete(s.byID, f.CompoundID)
	}
	return result, err
}

// reapStale drops compounds that have been incomplete for longer than
// CompoundTimeout, bounding memory for peers that start a split send and
// vanish.
func (s *compoundSet) reapStale(now time.Time) {
	for id, c := range s.byID {
		if now.Sub(c.created) > CompoundTimeout {
			delete(s.byID, id)
		}
	}
}
