package params

import (
	"encoding/binary"
	"fmt"
)

// RecordWords is the number of int32 words in the binary descriptor record.
const RecordWords = 18

// RecordSize is the size in bytes of the binary descriptor record.
const RecordSize = RecordWords * 4

// Words returns the descriptor as the int32 words the device reads, in
// record order.
func (d Descriptor) Words() [RecordWords]int32 {
	return [RecordWords]int32{
		int32(d.NumImages),
		int32(d.InChannels),
		int32(d.OutChannels),
		int32(d.BurstChannels),
		int32(d.RPO),
		int32(d.RPOFM),
		int32(d.BurstYDim),
		int32(d.YDim),
		int32(d.XDim),
		int32(d.XTilePad),
		int32(d.KSize),
		int32(d.NumGroups),
		boolWord(d.Backward),
		boolWord(d.Relu),
		int32(d.Stride),
		int32(d.Pad),
		boolWord(d.Pool),
		int32(d.PKSize),
	}
}

// MarshalBinary encodes the descriptor as a fixed-size little-endian record.
func (d Descriptor) MarshalBinary() ([]byte, error) {
	words := d.Words()
	buf := make([]byte, RecordSize)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(w))
	}
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (d *Descriptor) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: record is %d bytes, want %d", ErrInvalid, len(data), RecordSize)
	}
	var w [RecordWords]int
	for i := range w {
		w[i] = int(int32(binary.LittleEndian.Uint32(data[i*4:])))
	}
	*d = Descriptor{
		NumImages:     w[0],
		InChannels:    w[1],
		OutChannels:   w[2],
		BurstChannels: w[3],
		RPO:           w[4],
		RPOFM:         w[5],
		BurstYDim:     w[6],
		YDim:          w[7],
		XDim:          w[8],
		XTilePad:      w[9],
		KSize:         w[10],
		NumGroups:     w[11],
		Backward:      w[12] != 0,
		Relu:          w[13] != 0,
		Stride:        w[14],
		Pad:           w[15],
		Pool:          w[16] != 0,
		PKSize:        w[17],
	}
	return nil
}

func boolWord(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
