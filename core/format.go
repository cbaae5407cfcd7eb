package core

// FormatVersion is the current version for all persistent file formats
// (WAL records and chunk files).
const FormatVersion uint8 = 1

// Magic numbers identifying the on-disk file kind, stored in FileHeader.Magic.
const (
	MagicWAL   uint32 = 0x57414C31 // "WAL1"
	MagicChunk uint32 = 0x43484b31 // "CHK1"
)
