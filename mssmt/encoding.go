package mssmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// maxLeafSize is the maximum allowed size in bytes for the value of
	// a leaf carried in a serialized proof.
	maxLeafSize = (1 << 24) - 1 // 16 MiB

	// proofEntrySibling and proofEntryEmptyRun discriminate the two
	// proof entry encodings on the wire.
	proofEntrySibling  byte = 0x00
	proofEntryEmptyRun byte = 0x01

	// leafRecordExclusion and leafRecordInclusion discriminate the two
	// leaf record encodings on the wire.
	leafRecordExclusion byte = 0x00
	leafRecordInclusion byte = 0x01
)

var (
	// byteOrder is the byte order node sums are encoded with on the
	// wire.
	byteOrder = binary.BigEndian

	// ErrExceedsMaxLeafSize is returned when a leaf value exceeds the
	// maximum size allowed on the wire.
	ErrExceedsMaxLeafSize = fmt.Errorf(
		"mssmt: leaf exceeds maximum size of %d bytes", maxLeafSize,
	)
)

// writeByte writes a single byte to the writer.
func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

// readByte reads a single byte from the reader.
func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return b[0], nil
}

// Encode serializes the compressed proof. Each entry is either a literal
// sibling, encoded as its node hash followed by its big endian sum, or a
// run of empty subtree siblings, encoded as the run length followed by the
// depth of the first empty sibling of the run.
func (p *CompressedProof) Encode(w io.Writer) error {
	var scratch [8]byte

	err := tlv.WriteVarInt(w, uint64(len(p.Entries)), &scratch)
	if err != nil {
		return err
	}

	// pos tracks the index within the expanded proof of the next
	// sibling to be encoded.
	pos := 0
	for _, entry := range p.Entries {
		switch {
		case entry.Sibling != nil && entry.NumEmpty == 0:
			err := writeByte(w, proofEntrySibling)
			if err != nil {
				return err
			}

			hash := entry.Sibling.NodeHash()
			if _, err := w.Write(hash[:]); err != nil {
				return err
			}

			byteOrder.PutUint64(
				scratch[:], entry.Sibling.NodeSum(),
			)
			if _, err := w.Write(scratch[:]); err != nil {
				return err
			}

			pos++

		case entry.Sibling == nil && entry.NumEmpty > 0:
			err := writeByte(w, proofEntryEmptyRun)
			if err != nil {
				return err
			}

			err = tlv.WriteVarInt(
				w, uint64(entry.NumEmpty), &scratch,
			)
			if err != nil {
				return err
			}

			// The sibling at index pos sits at depth
			// MaxTreeLevels-pos.
			err = tlv.WriteVarInt(
				w, uint64(MaxTreeLevels-pos), &scratch,
			)
			if err != nil {
				return err
			}

			pos += int(entry.NumEmpty)

		default:
			return fmt.Errorf("%w: entry is neither a sibling "+
				"nor an empty run", ErrInvalidCompressedProof)
		}
	}

	return encodeLeafRecord(w, p.Leaf)
}

// encodeLeafRecord serializes the proof's leaf record.
func encodeLeafRecord(w io.Writer, leaf *LeafNode) error {
	if leaf.IsEmpty() {
		return writeByte(w, leafRecordExclusion)
	}

	if err := writeByte(w, leafRecordInclusion); err != nil {
		return err
	}

	if len(leaf.Value) > maxLeafSize {
		return ErrExceedsMaxLeafSize
	}

	var scratch [8]byte
	err := tlv.WriteVarInt(w, uint64(len(leaf.Value)), &scratch)
	if err != nil {
		return err
	}
	if _, err := w.Write(leaf.Value); err != nil {
		return err
	}

	byteOrder.PutUint64(scratch[:], leaf.NodeSum())
	_, err = w.Write(scratch[:])
	return err
}

// Decode deserializes a compressed proof. The encoded empty runs must
// expand to exactly one sibling per tree level, with each run's depth
// matching its position.
func (p *CompressedProof) Decode(r io.Reader) error {
	var scratch [8]byte

	numEntries, err := tlv.ReadVarInt(r, &scratch)
	if err != nil {
		return err
	}
	if numEntries > MaxTreeLevels {
		return fmt.Errorf("%w: %d entries", ErrInvalidCompressedProof,
			numEntries)
	}

	entries := make([]ProofEntry, 0, numEntries)
	pos := 0
	for i := uint64(0); i < numEntries; i++ {
		entryType, err := readByte(r)
		if err != nil {
			return err
		}

		switch entryType {
		case proofEntrySibling:
			var hash NodeHash
			if _, err := io.ReadFull(r, hash[:]); err != nil {
				return err
			}
			if _, err := io.ReadFull(r, scratch[:]); err != nil {
				return err
			}
			sum := byteOrder.Uint64(scratch[:])

			entries = append(entries, ProofEntry{
				Sibling: NewComputedNode(hash, sum),
			})
			pos++

		case proofEntryEmptyRun:
			runLen, err := tlv.ReadVarInt(r, &scratch)
			if err != nil {
				return err
			}
			if runLen == 0 {
				return fmt.Errorf("%w: zero length empty "+
					"run", ErrInvalidCompressedProof)
			}
			if runLen > uint64(MaxTreeLevels-pos) {
				return fmt.Errorf("%w: empty run extends "+
					"beyond the root",
					ErrInvalidCompressedProof)
			}

			depth, err := tlv.ReadVarInt(r, &scratch)
			if err != nil {
				return err
			}
			if depth != uint64(MaxTreeLevels-pos) {
				return fmt.Errorf("%w: empty run depth %d "+
					"doesn't match position %d",
					ErrInvalidCompressedProof, depth, pos)
			}

			entries = append(entries, ProofEntry{
				NumEmpty: uint16(runLen),
			})
			pos += int(runLen)

		default:
			return fmt.Errorf("%w: unknown entry type %d",
				ErrInvalidCompressedProof, entryType)
		}
	}

	if pos != MaxTreeLevels {
		return fmt.Errorf("%w: expected %d siblings, got %d",
			ErrInvalidCompressedProof, MaxTreeLevels, pos)
	}

	leaf, err := decodeLeafRecord(r)
	if err != nil {
		return err
	}

	p.Entries = entries
	p.Leaf = leaf

	return nil
}

// decodeLeafRecord deserializes the proof's leaf record.
func decodeLeafRecord(r io.Reader) (*LeafNode, error) {
	recordType, err := readByte(r)
	if err != nil {
		return nil, err
	}

	switch recordType {
	case leafRecordExclusion:
		return EmptyLeafNode, nil

	case leafRecordInclusion:
		var scratch [8]byte
		valueLen, err := tlv.ReadVarInt(r, &scratch)
		if err != nil {
			return nil, err
		}
		if valueLen > maxLeafSize {
			return nil, ErrExceedsMaxLeafSize
		}

		value := make([]byte, valueLen)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, scratch[:]); err != nil {
			return nil, err
		}
		sum := byteOrder.Uint64(scratch[:])

		return NewLeafNode(value, sum), nil

	default:
		return nil, fmt.Errorf("%w: unknown leaf record type %d",
			ErrInvalidCompressedProof, recordType)
	}
}

// Bytes returns the serialized compressed proof.
func (p *CompressedProof) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// NewProofFromCompressedBytes deserializes and decompresses a proof from
// its compressed wire encoding.
func NewProofFromCompressedBytes(data []byte) (*Proof, error) {
	var compressed CompressedProof
	if err := compressed.Decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}

	return compressed.Decompress()
}
