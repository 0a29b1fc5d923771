package wire

import "fmt"

// Stat is a 9P2000.u directory entry record: the fixed-size fields of
// classic 9P2000 plus the three numeric identity fields .u adds (n_uid,
// n_gid, n_muid). This server has no real POSIX ownership to report (FAT
// carries none), so the fs adaptor fills uid/gid/muid and n_uid/n_gid/
// n_muid with the same constant placeholder identity for every entry;
// extension is always left empty, since this server creates no symlinks or
// device nodes for it to describe.
type Stat struct {
	Type   uint16 // kernel use, always 0
	Dev    uint32 // kernel use, always 0
	QID    QID
	Mode   uint32
	Atime  uint32
	Mtime  uint32
	Length uint64
	Name   string
	UID    string
	GID    string
	MUID   string
	Ext    string
	NUID   uint32
	NGID   uint32
	NMUID  uint32
}

// encodedSize returns the number of bytes WriteStat will emit after the
// leading size[2] field itself, i.e. the value that belongs in Stat's
// self-describing size prefix.
func (s Stat) encodedSize() uint16 {
	fixed := 2 + 4 + qidSize + 4 + 4 + 4 + 8 // type,dev,qid,mode,atime,mtime,length
	strs := 2 + len(s.Name) + 2 + len(s.UID) + 2 + len(s.GID) + 2 + len(s.MUID) + 2 + len(s.Ext)
	nums := 4 + 4 + 4 // n_uid, n_gid, n_muid
	return uint16(fixed + strs + nums)
}

// WriteStat encodes a Stat record with its leading self-describing size
// field: size[2] followed by exactly size bytes of record.
func WriteStat(c *Cursor, s Stat) {
	c.WriteU16(s.encodedSize())
	c.WriteU16(s.Type)
	c.WriteU32(s.Dev)
	WriteQID(c, s.QID)
	c.WriteU32(s.Mode)
	c.WriteU32(s.Atime)
	c.WriteU32(s.Mtime)
	c.WriteU64(s.Length)
	c.WriteString(s.Name)
	c.WriteString(s.UID)
	c.WriteString(s.GID)
	c.WriteString(s.MUID)
	c.WriteString(s.Ext)
	c.WriteU32(s.NUID)
	c.WriteU32(s.NGID)
	c.WriteU32(s.NMUID)
}

// ReadStat decodes a Stat record, validating that the leading size field
// matches the number of bytes actually consumed. A mismatch means the
// record is malformed (truncated or padded) and is reported as an error
// rather than silently accepted, since a miscounted size would desync any
// caller iterating multiple stat records back to back (directory reads).
func ReadStat(c *Cursor) (Stat, error) {
	start := c.Pos()
	size := c.ReadU16()
	var s Stat
	s.Type = c.ReadU16()
	s.Dev = c.ReadU32()
	s.QID = ReadQID(c)
	s.Mode = c.ReadU32()
	s.Atime = c.ReadU32()
	s.Mtime = c.ReadU32()
	s.Length = c.ReadU64()
	s.Name = c.ReadString()
	s.UID = c.ReadString()
	s.GID = c.ReadString()
	s.MUID = c.ReadString()
	s.Ext = c.ReadString()
	s.NUID = c.ReadU32()
	s.NGID = c.ReadU32()
	s.NMUID = c.ReadU32()
	if err := c.Err(); err != nil {
		return Stat{}, err
	}
	consumed := c.Pos() - start - 2 // size field itself is excluded from size
	if uint16(consumed) != size {
		return Stat{}, fmt.Errorf("wire: malformed stat: size field says %d, consumed %d", size, consumed)
	}
	return s, nil
}
