// Package fs is the filesystem adaptor: it translates between 9P-visible
// paths/QIDs/Stat records and the storage.Backend's EntryInfo values. It
// owns path normalization, mode mapping, FAT-resolution timestamp
// quantization, and per-session QID derivation.
package fs

import (
	"hash/fnv"
	"path"
	"strings"
	"time"

	"github.com/ninep-go/ninepd/internal/ninepfs/storage"
	storageerrors "github.com/ninep-go/ninepd/internal/ninepfs/storage/errors"
	"github.com/ninep-go/ninepd/internal/wire"
)

// RootPath is the canonical representation of the volume root.
const RootPath = "/"

// RootQIDPath is reserved: the root directory always gets QID.Path == 1,
// regardless of the hash that would otherwise be derived for "/", so a
// client can recognize the root across attach calls within one session.
const RootQIDPath = 1

// DirectoryCreateBit marks a creation request as "make a directory" in the
// perm field of Tcreate, per this server's wire format (the high bit,
// distinct from the original firmware's use of the POSIX low directory
// bit).
const DirectoryCreateBit uint32 = 0x80000000

// Normalize resolves a walk step (the current absolute path plus one
// requested name component) into a new canonical absolute path. It never
// consults storage: "." is a no-op, ".." moves to the parent (clamped at
// root), and anything else is appended. Used in place of the original
// firmware's raw string concatenation, which bypassed this resolution and
// could produce paths never actually matching what component-by-component
// walking had resolved.
func Normalize(current, name string) string {
	switch name {
	case ".":
		return current
	case "..":
		if current == RootPath {
			return RootPath
		}
		return path.Dir(current)
	default:
		return path.Join(current, name)
	}
}

// MaxPathLength bounds a canonical 9P path to what the storage backend's
// on-disk format can encode, matching FAT32's 255-UCS-2-character long-name
// limit comfortably within a single byte-for-byte ASCII path.
const MaxPathLength = 255

// ValidatePath rejects a canonical path the storage backend could never
// represent, independent of whether anything currently exists there.
func ValidatePath(canonicalPath string) error {
	if len(canonicalPath) > MaxPathLength {
		return storageerrors.NewInvalidPathError(canonicalPath)
	}
	return nil
}

// DeriveQIDPath deterministically maps a canonical absolute path to a QID
// path value, stable for the lifetime of the process and reproducible
// without a cache: the same path always yields the same QID.Path, so
// directory reads never need to remember what they've handed out before,
// and nothing needs invalidating when a session disconnects.
func DeriveQIDPath(canonicalPath string) uint64 {
	if canonicalPath == RootPath {
		return RootQIDPath
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(canonicalPath))
	v := h.Sum64()
	if v == RootQIDPath {
		v++ // avoid colliding with the reserved root value
	}
	return v
}

// QIDFor builds the QID for a path given whether it names a directory.
func QIDFor(canonicalPath string, isDir bool) wire.QID {
	t := wire.QTFile
	if isDir {
		t = wire.QTDir
	}
	return wire.QID{Type: t, Version: 0, Path: DeriveQIDPath(canonicalPath)}
}

// ModeFor maps a storage entry to the 9P stat mode field: the directory
// bit plus a fixed permission mask (0755 for directories, 0644 for
// writable files, 0444 for read-only files) — this server does not track
// or enforce POSIX ownership/permission bits beyond this fixed mapping.
func ModeFor(isDir, readOnly bool) uint32 {
	if isDir {
		return DirectoryCreateBit | 0o755
	}
	if readOnly {
		return 0o444
	}
	return 0o644
}

// fatEpochQuantum is the two-second granularity FAT16/FAT32 directory
// entries store modification times at; this server quantizes every
// reported Mtime to that resolution so a filesystem backed by a real FAT
// volume is never asked to represent finer precision than it has.
const fatEpochQuantum = 2 * time.Second

// QuantizeToFATResolution rounds t down to the nearest 2-second boundary,
// matching FAT's timestamp granularity.
func QuantizeToFATResolution(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Truncate(fatEpochQuantum)
}

// placeholderIdentity is the constant uid/gid/muid this server reports for
// every entry: FAT carries no POSIX ownership, so there is no real value to
// report, and per the specification these are protocol fillers only.
const placeholderIdentity = "user"

// placeholderNumericID is the fixed non-zero n_uid/n_gid/n_muid value the .u
// extension's numeric identity fields carry, for clients that prefer the
// numeric fields over the string ones.
const placeholderNumericID = 1000

// StatFromEntry builds a wire.Stat for a storage entry found at
// canonicalPath.
func StatFromEntry(canonicalPath string, info storage.EntryInfo, readOnly bool) wire.Stat {
	mtime := QuantizeToFATResolution(info.ModTime)
	return wire.Stat{
		QID:    QIDFor(canonicalPath, info.IsDir),
		Mode:   ModeFor(info.IsDir, readOnly),
		Atime:  uint32(mtime.Unix()),
		Mtime:  uint32(mtime.Unix()),
		Length: uint64(info.Size),
		Name:   baseName(canonicalPath),
		UID:    placeholderIdentity,
		GID:    placeholderIdentity,
		MUID:   placeholderIdentity,
		NUID:   placeholderNumericID,
		NGID:   placeholderNumericID,
		NMUID:  placeholderNumericID,
	}
}

func baseName(canonicalPath string) string {
	if canonicalPath == RootPath {
		return "/"
	}
	trimmed := strings.TrimSuffix(canonicalPath, "/")
	idx := strings.LastIndex(trimmed, "/")
	return trimmed[idx+1:]
}
