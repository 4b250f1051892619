package raknet

import (
	"errors"

	"bedrock-netcore/internal/neterr"
)

// errShortBuffer and errBadMagic name the specific cause of a rejected
// datagram. Batch and ACK/NAK decoding joins them with
// neterr.ErrMalformedWire through malformed; the offline handlers return
// them wrapped with fmt.Errorf only.
var (
	errShortBuffer      = errors.New("short buffer")
	errBadMagic         = errors.New("bad offline magic")
	errReservedBits     = errors.New("reserved reliability bits")
	errCompoundTooLarge = errors.New("compound exceeds configured cap")
)

// malformed wraps err as a dropped-datagram condition.
func malformed(err error) error {
	return errors.Join(neterr.ErrMalformedWire, err)
}
