package wire

// QID is the server's unique identifier for a file or directory: type
// (directory/file plus reserved bits), a version counter, and a path unique
// within the lifetime of the filesystem it names. Two QIDs are the same file
// iff both Type and Path match; Version distinguishes successive contents of
// the same path (this server never reuses a path after a version bump, so
// Version is always left at 0 — see package internal/ninepfs/fs).
type QID struct {
	Type    uint8
	Version uint32
	Path    uint64
}

// qidSize is the QID's fixed on-wire size: 1 + 4 + 8 bytes.
const qidSize = 13

// ReadQID decodes a 13-byte QID from the cursor.
func ReadQID(c *Cursor) QID {
	var q QID
	q.Type = c.ReadU8()
	q.Version = c.ReadU32()
	q.Path = c.ReadU64()
	return q
}

// WriteQID encodes a QID in its fixed 13-byte layout: type, version, path.
func WriteQID(c *Cursor, q QID) {
	c.WriteU8(q.Type)
	c.WriteU32(q.Version)
	c.WriteU64(q.Path)
}

// IsDir reports whether the QID names a directory.
func (q QID) IsDir() bool {
	return q.Type&QTDir != 0
}
