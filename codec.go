package strata

import "encoding/binary"

// On-disk record geometry. These constants are shared with the packed file
// format and must never change once maps have been persisted.
const (
	// BlockWidth and BlockHeight are the cell dimensions of one block.
	BlockWidth  = 8
	BlockHeight = 8

	// CellsPerBlock is the fixed cell count of every block.
	CellsPerBlock = BlockWidth * BlockHeight

	// CellBytes is the packed size of one cell record:
	// tileType u16 little-endian, elevation i8.
	CellBytes = 3

	// BlockBytes is the packed size of one full block.
	BlockBytes = CellsPerBlock * CellBytes

	// ComponentBytes is the packed size of one structure component record:
	// tileType u16, offsetX i16, offsetY i16, offsetZ i16, flags u32.
	ComponentBytes = 12

	// IndexEntryBytes is the stride of one structure index slot:
	// offset u32, length u32, extra u32.
	IndexEntryBytes = 12
)

// DecodeCellValue reads one packed cell record from the front of b.
func DecodeCellValue(b []byte) (CellValue, error) {
	if len(b) < CellBytes {
		return CellValue{}, &MalformedRecordError{What: "cell", Want: CellBytes, Got: len(b)}
	}
	return CellValue{
		TileID:    binary.LittleEndian.Uint16(b),
		Elevation: int8(b[2]),
	}, nil
}

// PutCellValue writes one packed cell record into b, which must hold at
// least CellBytes. Encoding never fails: CellValue cannot represent an
// out-of-range tile or elevation, and a short destination is a caller
// contract violation.
func PutCellValue(b []byte, v CellValue) {
	binary.LittleEndian.PutUint16(b, v.TileID)
	b[2] = byte(v.Elevation)
}

// AppendCellValue appends one packed cell record to dst.
func AppendCellValue(dst []byte, v CellValue) []byte {
	var buf [CellBytes]byte
	PutCellValue(buf[:], v)
	return append(dst, buf[:]...)
}

// DecodeComponent reads one packed structure component record from the
// front of b.
func DecodeComponent(b []byte) (StructureComponent, error) {
	if len(b) < ComponentBytes {
		return StructureComponent{}, &MalformedRecordError{What: "structure component", Want: ComponentBytes, Got: len(b)}
	}
	return StructureComponent{
		TileID:  binary.LittleEndian.Uint16(b[0:2]),
		OffsetX: int16(binary.LittleEndian.Uint16(b[2:4])),
		OffsetY: int16(binary.LittleEndian.Uint16(b[4:6])),
		OffsetZ: int16(binary.LittleEndian.Uint16(b[6:8])),
		Flags:   binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// DecodeComponents decodes a whole data span into its component list,
// preserving on-disk order. A span that is not an exact multiple of the
// record size is malformed; no whole-record prefix is returned in that case.
func DecodeComponents(b []byte) ([]StructureComponent, error) {
	if len(b)%ComponentBytes != 0 {
		return nil, &MalformedRecordError{
			What: "structure component",
			Want: (len(b)/ComponentBytes + 1) * ComponentBytes,
			Got:  len(b),
		}
	}
	comps := make([]StructureComponent, 0, len(b)/ComponentBytes)
	for off := 0; off < len(b); off += ComponentBytes {
		c, err := DecodeComponent(b[off:])
		if err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	return comps, nil
}

// EncodeComponent appends one packed structure component record to dst.
// Used by tooling that builds structure files.
func EncodeComponent(dst []byte, c StructureComponent) []byte {
	var buf [ComponentBytes]byte
	binary.LittleEndian.PutUint16(buf[0:2], c.TileID)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(c.OffsetX))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(c.OffsetY))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(c.OffsetZ))
	binary.LittleEndian.PutUint32(buf[8:12], c.Flags)
	return append(dst, buf[:]...)
}

// decodeIndexEntry reads one index slot. The caller guarantees b holds at
// least IndexEntryBytes.
func decodeIndexEntry(b []byte) indexEntry {
	return indexEntry{
		offset: binary.LittleEndian.Uint32(b[0:4]),
		length: binary.LittleEndian.Uint32(b[4:8]),
		extra:  binary.LittleEndian.Uint32(b[8:12]),
	}
}
