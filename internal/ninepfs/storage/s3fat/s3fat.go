// Package s3fat implements storage.Backend on top of an S3 bucket,
// treating a bucket+prefix as a flat FAT-like volume: directories are
// zero-byte marker keys ending in "/", files are ordinary objects. It is
// grounded on the teacher's pkg/store/content/s3 package, which uses the
// same "path is the key" design and the same aws-sdk-go-v2 client/config/
// credentials trio, simplified here to whole-object buffering instead of
// multipart/range-read support, since this server's msize-bounded reads and
// writes never approach S3's multipart threshold.
package s3fat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/ninep-go/ninepd/internal/ninepfs/storage"
	storageerrors "github.com/ninep-go/ninepd/internal/ninepfs/storage/errors"
)

// Config configures an s3fat Backend.
type Config struct {
	Bucket          string
	KeyPrefix       string
	Region          string
	Endpoint        string // non-empty for S3-compatible stores (MinIO, etc.)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	TotalCapacity   uint64 // reported by TotalSpace; 0 means a 1Ti placeholder
}

type openObject struct {
	key   string
	isDir bool
	buf   *bytes.Buffer
	pos   int64
	dirty bool

	// directory iteration state
	names []string
	idx   int
}

// Backend is an S3-backed storage.Backend.
type Backend struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	capacity  uint64

	mu   sync.Mutex
	open map[storage.Handle]*openObject
	next uint64
}

// New builds a Backend from cfg, constructing its own aws-sdk-go-v2 client.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, storageerrors.NewInvalidArgumentError("s3fat: bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3fat: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	capacity := cfg.TotalCapacity
	if capacity == 0 {
		capacity = 1 << 40 // 1Ti placeholder; object storage has no fixed quota by default
	}

	return &Backend{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: strings.Trim(cfg.KeyPrefix, "/"),
		capacity:  capacity,
		open:      map[storage.Handle]*openObject{},
	}, nil
}

func (b *Backend) key(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if b.keyPrefix == "" {
		return trimmed
	}
	if trimmed == "" {
		return b.keyPrefix + "/"
	}
	return b.keyPrefix + "/" + trimmed
}

func (b *Backend) dirMarker(path string) string {
	k := b.key(path)
	if !strings.HasSuffix(k, "/") {
		k += "/"
	}
	return k
}

func (b *Backend) nextHandle() storage.Handle {
	b.next++
	return storage.Handle(b.next)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if ok := errorsAs(err, &apiErr); ok {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// errorsAs walks err's single-error Unwrap chain looking for a
// smithy.APIError, without calling errors.As, matching the teacher's
// habit of keeping AWS-specific error inspection local to one helper.
func errorsAs(err error, target *smithy.APIError) bool {
	for err != nil {
		if apiErr, ok := err.(smithy.APIError); ok {
			*target = apiErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Open fetches an object (or lists a directory prefix) into memory.
func (b *Backend) Open(ctx context.Context, path string) (storage.Handle, storage.EntryInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if path == "/" {
		names, err := b.listChildren(ctx, "")
		if err != nil {
			return 0, storage.EntryInfo{}, err
		}
		h := b.nextHandle()
		b.open[h] = &openObject{key: b.dirMarker("/"), isDir: true, names: names}
		return h, storage.EntryInfo{Name: "/", IsDir: true, ModTime: time.Now()}, nil
	}

	// Try as a file object first.
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: aws.String(b.key(path))})
	if err == nil {
		defer out.Body.Close()
		data, readErr := io.ReadAll(out.Body)
		if readErr != nil {
			return 0, storage.EntryInfo{}, storageerrors.NewIOError(path, readErr)
		}
		h := b.nextHandle()
		b.open[h] = &openObject{key: b.key(path), buf: bytes.NewBuffer(data)}
		info := storage.EntryInfo{Name: baseName(path), Size: int64(len(data))}
		if out.LastModified != nil {
			info.ModTime = *out.LastModified
		}
		return h, info, nil
	}
	if !isNotFound(err) {
		return 0, storage.EntryInfo{}, storageerrors.NewIOError(path, err)
	}

	// Fall back to directory: a marker key or any object under the prefix.
	names, derr := b.listChildren(ctx, path)
	if derr != nil || names == nil {
		return 0, storage.EntryInfo{}, storageerrors.NewNotFoundError(path)
	}
	h := b.nextHandle()
	b.open[h] = &openObject{key: b.dirMarker(path), isDir: true, names: names}
	return h, storage.EntryInfo{Name: baseName(path), IsDir: true}, nil
}

func baseName(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	return trimmed[idx+1:]
}

func (b *Backend) listChildren(ctx context.Context, path string) ([]string, error) {
	prefix := b.dirMarker(path)
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: &b.bucket, Prefix: aws.String(prefix), Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, storageerrors.NewIOError(path, err)
	}
	seen := map[string]struct{}{}
	var names []string
	for _, p := range out.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(*p.Prefix, prefix), "/")
		if name != "" {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	for _, obj := range out.Contents {
		name := strings.TrimPrefix(*obj.Key, prefix)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if names == nil && path != "" {
		// No children and no marker object: check whether the directory
		// marker itself exists before declaring NotFound.
		_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: aws.String(prefix)})
		if err != nil {
			return nil, nil
		}
		return []string{}, nil
	}
	return names, nil
}

// Create creates a new object (file) or directory marker key.
func (b *Backend) Create(ctx context.Context, path string, isDir bool) (storage.Handle, storage.EntryInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := b.key(path)
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: aws.String(key)})
	if err == nil {
		return 0, storage.EntryInfo{}, storageerrors.NewAlreadyExistsError(path)
	}

	h := b.nextHandle()
	if isDir {
		marker := b.dirMarker(path)
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{Bucket: &b.bucket, Key: &marker, Body: bytes.NewReader(nil)})
		if err != nil {
			return 0, storage.EntryInfo{}, storageerrors.NewIOError(path, err)
		}
		b.open[h] = &openObject{key: marker, isDir: true, names: []string{}}
		return h, storage.EntryInfo{Name: baseName(path), IsDir: true}, nil
	}

	obj := &openObject{key: key, buf: &bytes.Buffer{}, dirty: true}
	b.open[h] = obj
	if err := b.flush(ctx, obj); err != nil {
		delete(b.open, h)
		return 0, storage.EntryInfo{}, err
	}
	return h, storage.EntryInfo{Name: baseName(path)}, nil
}

func (b *Backend) lookup(h storage.Handle) (*openObject, error) {
	obj, ok := b.open[h]
	if !ok {
		return nil, storageerrors.NewInvalidHandleError()
	}
	return obj, nil
}

func (b *Backend) flush(ctx context.Context, obj *openObject) error {
	if !obj.dirty {
		return nil
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &b.bucket, Key: &obj.key, Body: bytes.NewReader(obj.buf.Bytes()),
	})
	if err != nil {
		return storageerrors.NewIOError(obj.key, err)
	}
	obj.dirty = false
	return nil
}

// Read reads from the handle's in-memory buffer.
func (b *Backend) Read(ctx context.Context, h storage.Handle, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, err := b.lookup(h)
	if err != nil {
		return 0, err
	}
	if obj.isDir {
		return 0, storageerrors.NewIsDirectoryError(obj.key)
	}
	data := obj.buf.Bytes()
	if obj.pos >= int64(len(data)) {
		return 0, nil
	}
	n := copy(buf, data[obj.pos:])
	obj.pos += int64(n)
	return n, nil
}

// Write writes into the handle's in-memory buffer and marks it dirty; the
// object is re-uploaded to S3 on Close.
func (b *Backend) Write(ctx context.Context, h storage.Handle, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, err := b.lookup(h)
	if err != nil {
		return 0, err
	}
	if obj.isDir {
		return 0, storageerrors.NewIsDirectoryError(obj.key)
	}
	data := obj.buf.Bytes()
	end := obj.pos + int64(len(buf))
	if end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[obj.pos:end], buf)
	obj.buf = bytes.NewBuffer(data)
	obj.pos = end
	obj.dirty = true
	return len(buf), nil
}

// Seek repositions the handle within its buffered object.
func (b *Backend) Seek(ctx context.Context, h storage.Handle, offset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, err := b.lookup(h)
	if err != nil {
		return err
	}
	if offset < 0 {
		return storageerrors.NewInvalidArgumentError("negative seek offset")
	}
	obj.pos = offset
	obj.idx = 0
	return nil
}

// Size returns the buffered object's current length.
func (b *Backend) Size(ctx context.Context, h storage.Handle) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, err := b.lookup(h)
	if err != nil {
		return 0, err
	}
	if obj.isDir {
		return 0, storageerrors.NewIsDirectoryError(obj.key)
	}
	return int64(obj.buf.Len()), nil
}

// Close flushes any pending write and releases the handle.
func (b *Backend) Close(ctx context.Context, h storage.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, err := b.lookup(h)
	if err != nil {
		return err
	}
	if !obj.isDir {
		if err := b.flush(ctx, obj); err != nil {
			return err
		}
	}
	delete(b.open, h)
	return nil
}

// DirNext returns the next child name of a listed directory handle.
func (b *Backend) DirNext(ctx context.Context, h storage.Handle) (storage.EntryInfo, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, err := b.lookup(h)
	if err != nil {
		return storage.EntryInfo{}, false, err
	}
	if !obj.isDir {
		return storage.EntryInfo{}, false, storageerrors.NewNotDirectoryError(obj.key)
	}
	if obj.idx >= len(obj.names) {
		return storage.EntryInfo{}, false, nil
	}
	name := obj.names[obj.idx]
	obj.idx++
	return storage.EntryInfo{Name: name}, true, nil
}

// Delete removes an object or an empty directory marker.
func (b *Backend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	names, _ := b.listChildren(ctx, path)
	if names != nil && len(names) > 0 {
		return storageerrors.NewNotEmptyError(path)
	}

	key := b.key(path)
	if names != nil {
		key = b.dirMarker(path)
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: &key})
	if err != nil {
		return storageerrors.NewIOError(path, err)
	}
	return nil
}

// Rename copies the object to newPath and deletes oldPath (S3 has no
// native rename/move operation).
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldKey := b.key(oldPath)
	newKey := b.key(newPath)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &b.bucket,
		Key:        &newKey,
		CopySource: aws.String(b.bucket + "/" + oldKey),
	})
	if err != nil {
		return storageerrors.NewIOError(oldPath, err)
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: &oldKey})
	if err != nil {
		return storageerrors.NewIOError(oldPath, err)
	}
	return nil
}

// FreeSpace reports the configured capacity minus the sum of object sizes
// under this backend's prefix. Object storage has no inherent quota, so
// this is a soft accounting figure, not a hard kernel-reported value.
func (b *Backend) FreeSpace(ctx context.Context) (uint64, error) {
	var used uint64
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: &b.bucket, Prefix: aws.String(b.keyPrefix), ContinuationToken: token,
		})
		if err != nil {
			return 0, storageerrors.NewIOError("", err)
		}
		for _, obj := range out.Contents {
			used += uint64(aws.ToInt64(obj.Size))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	if used >= b.capacity {
		return 0, nil
	}
	return b.capacity - used, nil
}

// TotalSpace returns the configured capacity.
func (b *Backend) TotalSpace(ctx context.Context) (uint64, error) {
	return b.capacity, nil
}

var _ storage.Backend = (*Backend)(nil)
