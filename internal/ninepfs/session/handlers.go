package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/ninep-go/ninepd/internal/ninepfs/fid"
	"github.com/ninep-go/ninepd/internal/ninepfs/fs"
	"github.com/ninep-go/ninepd/internal/ninepfs/storage"
	storageerrors "github.com/ninep-go/ninepd/internal/ninepfs/storage/errors"
	"github.com/ninep-go/ninepd/internal/wire"
)

// Open mode bits, per 9P2000's Topen/Tcreate mode byte. The low two bits
// are a 4-way enum (read/write/rdwr/exec), so "exactly one of" those four
// is automatically satisfied by construction; OTRUNC/OCEXEC/ORCLOSE are
// independent flag bits that may be combined with any of the four.
const (
	OREAD   uint8 = 0
	OWRITE  uint8 = 1
	ORDWR   uint8 = 2
	OEXEC   uint8 = 3
	OTRUNC  uint8 = 0x10
	OCEXEC  uint8 = 0x20
	ORCLOSE uint8 = 0x40

	// validModeBits is every bit this server recognizes in an open mode
	// byte; anything else set is an impossible combination.
	validModeBits uint8 = 0x03 | OTRUNC | OCEXEC | ORCLOSE
)

// maxWalkElements bounds one Twalk's nwname, matching the protocol limit.
const maxWalkElements = 16

// handleVersion negotiates msize and protocol version. A Tversion always
// resets the FID table and the session back to its pre-attach state, even
// mid-session: the protocol allows a client to renegotiate at any time, and
// every open FID becomes meaningless once that happens.
func (s *Session) handleVersion(cur *wire.Cursor, tag uint16) ([]byte, error) {
	clientMsize := cur.ReadU32()
	clientVersion := cur.ReadString()
	if err := cur.Err(); err != nil {
		return nil, err
	}

	for _, h := range s.fids.AllOpenHandles() {
		_ = s.backend.Close(context.Background(), storage.Handle(h))
	}
	s.fids = fid.NewTable(s.cfg.MaxFIDs)
	s.state = StateConnected

	negotiated := clientMsize
	if negotiated > s.cfg.MSizeCeiling {
		negotiated = s.cfg.MSizeCeiling
	}
	if negotiated < wire.HeaderSize {
		return nil, fmt.Errorf("msize %d too small", clientMsize)
	}

	replyVersion := "unknown"
	if clientVersion == wire.VersionString {
		replyVersion = wire.VersionString
		s.msize = negotiated
		s.state = StateVersioned
	} else {
		// Per the resolved protocol question: an unrecognized version leaves
		// msize at its pre-negotiation default and the session un-versioned,
		// rather than recording the client's rejected proposal.
		s.msize = DefaultInitialMsize
	}

	b := wire.NewBuilder(int(negotiated), wire.Rversion, tag)
	b.Cursor().WriteU32(s.msize)
	b.Cursor().WriteString(replyVersion)
	return b.Finish()
}

// handleAttach establishes the root FID and moves the session to attached.
// Authentication is unsupported, so afid must be NoFID.
func (s *Session) handleAttach(cur *wire.Cursor, tag uint16) ([]byte, error) {
	if s.state != StateVersioned && s.state != StateAttached {
		return nil, fmt.Errorf("attach before version negotiated")
	}
	newFID := cur.ReadU32()
	afid := cur.ReadU32()
	_ = cur.ReadString() // uname, not used: single-tenant attach point
	_ = cur.ReadString() // aname, not used: one attach point per session
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if afid != wire.NoFID {
		return nil, fmt.Errorf("authentication not supported")
	}

	q := fs.QIDFor(fs.RootPath, true)
	if err := s.fids.Alloc(newFID, fid.Entry{Kind: fid.KindDirectory, QID: q, Path: fs.RootPath}); err != nil {
		return nil, err
	}
	s.state = StateAttached

	b := wire.NewBuilder(int(s.msize), wire.Rattach, tag)
	wire.WriteQID(b.Cursor(), q)
	return b.Finish()
}

// handleWalk resolves a sequence of name components from fid's path,
// stopping at the first failure and reporting only the QIDs successfully
// resolved so far (partial walk), per 9P's walk semantics. nwname==0 is a
// clone: newfid is bound to the same path without inheriting fid's open
// handle, since a freshly cloned fid has not itself been opened.
func (s *Session) handleWalk(cur *wire.Cursor, tag uint16) ([]byte, error) {
	if s.state != StateAttached {
		return nil, fmt.Errorf("walk before attach")
	}
	srcFID := cur.ReadU32()
	newFID := cur.ReadU32()
	nwname := cur.ReadU16()
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if nwname > maxWalkElements {
		return nil, fmt.Errorf("too many walk elements: %d", nwname)
	}
	names := make([]string, nwname)
	for i := range names {
		names[i] = cur.ReadString()
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	src, err := s.fids.Lookup(srcFID)
	if err != nil {
		return nil, err
	}
	if src.HasHandle {
		return nil, storageerrors.NewInvalidArgumentError("walk failed: fid is open")
	}
	if src.Kind != fid.KindDirectory && nwname > 0 {
		return nil, storageerrors.NewNotDirectoryError(src.Path)
	}
	if newFID != srcFID {
		if _, err := s.fids.Lookup(newFID); err == nil {
			return nil, storageerrors.NewInvalidArgumentError("fid in use")
		}
	}

	qids := make([]wire.QID, 0, nwname)
	walkedPath := src.Path
	isDir := src.Kind == fid.KindDirectory
	for _, name := range names {
		candidate := fs.Normalize(walkedPath, name)
		if err := fs.ValidatePath(candidate); err != nil {
			break // partial walk: stop, report what succeeded so far
		}
		info, statErr := s.statPath(context.Background(), candidate)
		if statErr != nil {
			break // partial walk: stop, report what succeeded so far
		}
		walkedPath = candidate
		isDir = info.IsDir
		qids = append(qids, fs.QIDFor(candidate, info.IsDir))
	}

	if len(qids) < int(nwname) && len(qids) == 0 && nwname > 0 {
		return nil, storageerrors.NewNotFoundError(fs.Normalize(src.Path, names[0]))
	}

	if int(nwname) == 0 || len(qids) == int(nwname) {
		kind := fid.KindFile
		if isDir {
			kind = fid.KindDirectory
		}
		newEntry := fid.Entry{Kind: kind, QID: fs.QIDFor(walkedPath, isDir), Path: walkedPath}
		if newFID == srcFID {
			// Cloning onto the same fid number just rewrites it in place;
			// it is already allocated, so Update (not Alloc) is correct.
			if err := s.fids.Update(newFID, newEntry); err != nil {
				return nil, err
			}
		} else if err := s.fids.Alloc(newFID, newEntry); err != nil {
			return nil, err
		}
	}

	b := wire.NewBuilder(int(s.msize), wire.Rwalk, tag)
	b.Cursor().WriteU16(uint16(len(qids)))
	for _, q := range qids {
		wire.WriteQID(b.Cursor(), q)
	}
	return b.Finish()
}

// statPath fetches EntryInfo for a path without requiring an already-open
// FID, by opening and immediately closing it. The storage contract has no
// separate stat-by-path call: everything routes through open, the way a
// single FAT32 driver naturally exposes it.
func (s *Session) statPath(ctx context.Context, path string) (storage.EntryInfo, error) {
	h, info, err := s.backend.Open(ctx, path)
	if err != nil {
		return storage.EntryInfo{}, err
	}
	_ = s.backend.Close(ctx, h)
	return info, nil
}

// handleOpen opens fid's path for I/O and reports the negotiated IOUnit:
// the largest payload this server will ever pack into a single Rread, which
// is msize minus the fixed Rread header overhead.
func (s *Session) handleOpen(ctx context.Context, cur *wire.Cursor, tag uint16) ([]byte, error) {
	if s.state != StateAttached {
		return nil, fmt.Errorf("open before attach")
	}
	targetFID := cur.ReadU32()
	mode := cur.ReadU8()
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if mode&^validModeBits != 0 {
		return nil, storageerrors.NewInvalidArgumentError("invalid mode")
	}

	e, err := s.fids.Lookup(targetFID)
	if err != nil {
		return nil, err
	}
	if e.HasHandle {
		return nil, fmt.Errorf("fid %d already open", targetFID)
	}

	h, info, err := s.backend.Open(ctx, e.Path)
	if err != nil {
		return nil, err
	}
	if (mode&0x3) != OREAD && info.IsDir {
		_ = s.backend.Close(ctx, h)
		return nil, storageerrors.NewIsDirectoryError(e.Path)
	}
	if info.ReadOnly && (mode&0x3) != OREAD {
		_ = s.backend.Close(ctx, h)
		return nil, storageerrors.NewReadOnlyError(e.Path)
	}

	e.HasHandle = true
	e.Storage = uint64(h)
	e.Mode = mode
	e.IOUnit = s.msize - 11
	e.QID = fs.QIDFor(e.Path, info.IsDir)
	if err := s.fids.Update(targetFID, e); err != nil {
		_ = s.backend.Close(ctx, h)
		return nil, err
	}

	b := wire.NewBuilder(int(s.msize), wire.Ropen, tag)
	wire.WriteQID(b.Cursor(), e.QID)
	b.Cursor().WriteU32(e.IOUnit)
	return b.Finish()
}

// handleCreate creates a new entry inside fid's (directory) path and, per
// 9P semantics, rebinds fid itself to name the newly created entry, already
// open.
func (s *Session) handleCreate(ctx context.Context, cur *wire.Cursor, tag uint16) ([]byte, error) {
	if s.state != StateAttached {
		return nil, fmt.Errorf("create before attach")
	}
	targetFID := cur.ReadU32()
	name := cur.ReadString()
	perm := cur.ReadU32()
	mode := cur.ReadU8()
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if mode&^validModeBits != 0 {
		return nil, storageerrors.NewInvalidArgumentError("invalid mode")
	}

	e, err := s.fids.Lookup(targetFID)
	if err != nil {
		return nil, err
	}
	if e.Kind != fid.KindDirectory {
		return nil, storageerrors.NewNotDirectoryError(e.Path)
	}
	if e.HasHandle {
		return nil, fmt.Errorf("fid %d already open", targetFID)
	}

	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return nil, storageerrors.NewInvalidArgumentError("invalid name")
	}

	isDir := perm&fs.DirectoryCreateBit != 0
	childPath := fs.Normalize(e.Path, name)
	if err := fs.ValidatePath(childPath); err != nil {
		return nil, err
	}

	h, info, err := s.backend.Create(ctx, childPath, isDir)
	if err != nil {
		return nil, err
	}

	newKind := fid.KindFile
	if isDir {
		newKind = fid.KindDirectory
	}
	q := fs.QIDFor(childPath, isDir)
	e.Kind = newKind
	e.Path = childPath
	e.QID = q
	e.HasHandle = true
	e.Storage = uint64(h)
	e.Mode = mode
	e.IOUnit = s.msize - 11
	if err := s.fids.Update(targetFID, e); err != nil {
		_ = s.backend.Close(ctx, h)
		return nil, err
	}
	_ = info

	b := wire.NewBuilder(int(s.msize), wire.Rcreate, tag)
	wire.WriteQID(b.Cursor(), q)
	b.Cursor().WriteU32(e.IOUnit)
	return b.Finish()
}

// handleRead serves both file reads (raw bytes from the backend) and
// directory reads (a concatenation of wire.Stat records, one per entry,
// starting over from the first entry whenever offset is 0 — this server
// does not support resuming a partial directory read from an arbitrary mid-
// stream offset, matching a scan-from-start-each-time FAT directory
// iterator).
func (s *Session) handleRead(ctx context.Context, cur *wire.Cursor, tag uint16) ([]byte, error) {
	if s.state != StateAttached {
		return nil, fmt.Errorf("read before attach")
	}
	targetFID := cur.ReadU32()
	offset := cur.ReadU64()
	count := cur.ReadU32()
	if err := cur.Err(); err != nil {
		return nil, err
	}

	e, err := s.fids.Lookup(targetFID)
	if err != nil {
		return nil, err
	}
	if !e.HasHandle {
		return nil, fmt.Errorf("fid %d not open", targetFID)
	}
	if count > e.IOUnit {
		count = e.IOUnit
	}

	b := wire.NewBuilder(int(s.msize), wire.Rread, tag)

	if e.Kind == fid.KindDirectory {
		payload, n, err := s.readDirectoryEntries(ctx, targetFID, e, offset, count)
		if err != nil {
			return nil, err
		}
		b.Cursor().WriteU32(n)
		b.Cursor().WriteBytes(payload)
		return b.Finish()
	}

	if err := s.backend.Seek(ctx, storage.Handle(e.Storage), int64(offset)); err != nil {
		return nil, err
	}
	buf := make([]byte, count)
	n, err := s.backend.Read(ctx, storage.Handle(e.Storage), buf)
	if err != nil {
		return nil, err
	}
	b.Cursor().WriteU32(uint32(n))
	b.Cursor().WriteBytes(buf[:n])
	return b.Finish()
}

// readDirectoryEntries rewinds and re-enumerates the directory handle from
// the start whenever offset is 0, then packs as many encoded Stat records as
// fit within count bytes. An entry pulled from the backend but too large to
// fit is never discarded: the backend's directory cursor has already moved
// past it, so it is stashed on the fid as DirLookahead and emitted first on
// the next call, rather than silently skipped.
func (s *Session) readDirectoryEntries(ctx context.Context, targetFID uint32, e fid.Entry, offset uint64, count uint32) ([]byte, uint32, error) {
	if offset == 0 {
		if err := s.backend.Seek(ctx, storage.Handle(e.Storage), 0); err != nil {
			return nil, 0, err
		}
		e.DirLookahead = nil
	}

	var payload []byte
	pending := e.DirLookahead
	e.DirLookahead = nil
	for {
		var encoded []byte
		if pending != nil {
			encoded, pending = pending, nil
		} else {
			info, ok, err := s.backend.DirNext(ctx, storage.Handle(e.Storage))
			if err != nil {
				return nil, 0, err
			}
			if !ok {
				break
			}
			childPath := fs.Normalize(e.Path, info.Name)
			st := fs.StatFromEntry(childPath, info, info.ReadOnly)
			enc := wire.NewCursor(make([]byte, 4096))
			wire.WriteStat(enc, st)
			if err := enc.Err(); err != nil {
				return nil, 0, err
			}
			encoded = enc.Bytes()
		}
		if uint32(len(payload)+len(encoded)) > count {
			e.DirLookahead = encoded
			break
		}
		payload = append(payload, encoded...)
	}
	if err := s.fids.Update(targetFID, e); err != nil {
		return nil, 0, err
	}
	return payload, uint32(len(payload)), nil
}

// handleWrite writes to an open file fid. Directory writes are always
// rejected: a 9P directory is only ever populated via Tcreate.
func (s *Session) handleWrite(ctx context.Context, cur *wire.Cursor, tag uint16) ([]byte, error) {
	if s.state != StateAttached {
		return nil, fmt.Errorf("write before attach")
	}
	targetFID := cur.ReadU32()
	offset := cur.ReadU64()
	count := cur.ReadU32()
	data := cur.ReadBytes(int(count))
	if err := cur.Err(); err != nil {
		return nil, err
	}

	e, err := s.fids.Lookup(targetFID)
	if err != nil {
		return nil, err
	}
	if !e.HasHandle {
		return nil, fmt.Errorf("fid %d not open", targetFID)
	}
	if e.Kind == fid.KindDirectory {
		return nil, storageerrors.NewIsDirectoryError(e.Path)
	}

	if err := s.backend.Seek(ctx, storage.Handle(e.Storage), int64(offset)); err != nil {
		return nil, err
	}
	n, err := s.backend.Write(ctx, storage.Handle(e.Storage), data)
	if err != nil {
		return nil, err
	}

	b := wire.NewBuilder(int(s.msize), wire.Rwrite, tag)
	b.Cursor().WriteU32(uint32(n))
	return b.Finish()
}

// handleClunk releases fid unconditionally: even if closing the underlying
// storage handle fails, the fid itself is freed, matching 9P's clunk
// contract that a clunked fid is never usable again regardless of error.
func (s *Session) handleClunk(ctx context.Context, cur *wire.Cursor, tag uint16) ([]byte, error) {
	targetFID := cur.ReadU32()
	if err := cur.Err(); err != nil {
		return nil, err
	}

	e, ok := s.fids.Remove(targetFID)
	if !ok {
		return nil, fid.ErrUnknownFID
	}
	if e.HasHandle {
		_ = s.backend.Close(ctx, storage.Handle(e.Storage))
	}

	b := wire.NewBuilder(int(s.msize), wire.Rclunk, tag)
	return b.Finish()
}

// handleRemove deletes fid's entry then frees fid unconditionally, matching
// clunk's never-reusable-again contract even when the delete itself fails.
func (s *Session) handleRemove(ctx context.Context, cur *wire.Cursor, tag uint16) ([]byte, error) {
	targetFID := cur.ReadU32()
	if err := cur.Err(); err != nil {
		return nil, err
	}

	e, ok := s.fids.Remove(targetFID)
	if !ok {
		return nil, fid.ErrUnknownFID
	}
	if e.HasHandle {
		_ = s.backend.Close(ctx, storage.Handle(e.Storage))
	}
	if e.Path == fs.RootPath {
		return nil, storageerrors.NewInvalidArgumentError("cannot remove root")
	}

	deleteErr := s.backend.Delete(ctx, e.Path)
	if deleteErr != nil {
		return nil, deleteErr
	}

	b := wire.NewBuilder(int(s.msize), wire.Rremove, tag)
	return b.Finish()
}

// handleStat reports fid's current Stat record, fetching fresh EntryInfo if
// the fid has not been opened yet.
func (s *Session) handleStat(ctx context.Context, cur *wire.Cursor, tag uint16) ([]byte, error) {
	targetFID := cur.ReadU32()
	if err := cur.Err(); err != nil {
		return nil, err
	}

	e, err := s.fids.Lookup(targetFID)
	if err != nil {
		return nil, err
	}

	info, err := s.entryInfoFor(ctx, e)
	if err != nil {
		return nil, err
	}
	st := fs.StatFromEntry(e.Path, info, info.ReadOnly)

	b := wire.NewBuilder(int(s.msize), wire.Rstat, tag)
	wire.WriteStat(b.Cursor(), st)
	return b.Finish()
}

func (s *Session) entryInfoFor(ctx context.Context, e fid.Entry) (storage.EntryInfo, error) {
	if e.HasHandle {
		size, err := s.backend.Size(ctx, storage.Handle(e.Storage))
		if err != nil {
			return storage.EntryInfo{}, err
		}
		return storage.EntryInfo{Name: e.Path, IsDir: e.Kind == fid.KindDirectory, Size: size}, nil
	}
	return s.statPath(ctx, e.Path)
}

// wstatSentinel16/32/64 mark "leave this field unchanged" in a Twstat
// request, per 9P2000's convention of an all-ones value meaning "don't
// touch".
const (
	wstatSentinel16 = 0xFFFF
	wstatSentinel32 = 0xFFFFFFFF
	wstatSentinel64 = 0xFFFFFFFFFFFFFFFF
)

// handleWstat honors only a rename via the Name field; any other field
// carrying a genuine (non-sentinel) change is rejected with Rerror rather
// than silently ignored, since this server does not support changing
// permissions, ownership, or timestamps independently of the data they
// describe.
func (s *Session) handleWstat(ctx context.Context, cur *wire.Cursor, tag uint16) ([]byte, error) {
	targetFID := cur.ReadU32()
	st, err := wire.ReadStat(cur)
	if err != nil {
		return nil, err
	}

	e, err := s.fids.Lookup(targetFID)
	if err != nil {
		return nil, err
	}

	if st.Type != wstatSentinel16 || st.Dev != wstatSentinel32 ||
		st.QID.Type != 0xFF || st.QID.Version != wstatSentinel32 || st.QID.Path != wstatSentinel64 ||
		st.Mode != wstatSentinel32 || st.Atime != wstatSentinel32 || st.Mtime != wstatSentinel32 ||
		st.Length != wstatSentinel64 || st.NUID != wstatSentinel32 || st.NGID != wstatSentinel32 ||
		st.NMUID != wstatSentinel32 ||
		st.UID != "" || st.GID != "" || st.MUID != "" || st.Ext != "" {
		return nil, storageerrors.NewInvalidArgumentError("unsupported wstat field change")
	}

	if st.Name != "" && st.Name != baseNameOf(e.Path) {
		if st.Name == "." || st.Name == ".." || strings.Contains(st.Name, "/") {
			return nil, storageerrors.NewInvalidArgumentError("invalid name")
		}
		if e.Path == fs.RootPath {
			return nil, storageerrors.NewInvalidArgumentError("cannot rename root")
		}
		parent := parentOfPath(e.Path)
		newPath := fs.Normalize(parent, st.Name)
		if err := fs.ValidatePath(newPath); err != nil {
			return nil, err
		}
		if err := s.backend.Rename(ctx, e.Path, newPath); err != nil {
			return nil, err
		}
		e.Path = newPath
		e.QID = fs.QIDFor(newPath, e.Kind == fid.KindDirectory)
		if err := s.fids.Update(targetFID, e); err != nil {
			return nil, err
		}
	}

	b := wire.NewBuilder(int(s.msize), wire.Rwstat, tag)
	return b.Finish()
}

func parentOfPath(p string) string {
	return fs.Normalize(p, "..")
}

func baseNameOf(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	idx := strings.LastIndex(trimmed, "/")
	return trimmed[idx+1:]
}

// handleFlush is a true no-op: this session processes requests strictly
// sequentially, so by the time a Tflush is read, the request it names has
// already either completed or never existed. Every Tflush succeeds.
func (s *Session) handleFlush(cur *wire.Cursor, tag uint16) ([]byte, error) {
	_ = cur.ReadU16() // oldtag, unused: nothing can still be in flight
	if err := cur.Err(); err != nil {
		return nil, err
	}
	b := wire.NewBuilder(int(s.msize), wire.Rflush, tag)
	return b.Finish()
}
