// Package blobstore keeps uploaded audio on the local filesystem.
//
// Uploads are first spooled into a private directory while their fingerprint
// is computed, then committed under uploads/<call_id><ext> once a job has been
// created for them. Paths handed out by the store are absolute; Delete refuses
// anything outside the uploads root.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"geass/internal/fileutil"
	"geass/internal/fingerprint"
	"geass/internal/services"
)

// Spooled is an upload that has been fully received but not yet committed.
type Spooled struct {
	Path string
	Key  string
	Size int64
}

// Local stores blobs beneath a root directory.
type Local struct {
	root         string
	spoolDir     string
	minFreeBytes uint64
	freeBytes    func(path string) (uint64, error)
}

// NewLocal creates a store rooted at uploadsDir that spools into spoolDir.
// Spooling is refused while the filesystem has less than minFreeMB available.
func NewLocal(uploadsDir, spoolDir string, minFreeMB int64) (*Local, error) {
	root, err := filepath.Abs(uploadsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads dir: %w", err)
	}
	spool, err := filepath.Abs(spoolDir)
	if err != nil {
		return nil, fmt.Errorf("resolve spool dir: %w", err)
	}
	for _, dir := range []string{root, spool} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create blob directory %q: %w", dir, err)
		}
	}
	if minFreeMB < 0 {
		minFreeMB = 0
	}
	return &Local{
		root:         root,
		spoolDir:     spool,
		minFreeBytes: uint64(minFreeMB) << 20,
		freeBytes:    FreeBytes,
	}, nil
}

// Root returns the directory committed blobs live in.
func (l *Local) Root() string {
	return l.root
}

// Spool copies r into a temporary file while fingerprinting it. Uploads
// larger than maxBytes or empty uploads are rejected and leave nothing behind.
func (l *Local) Spool(r io.Reader, maxBytes int64) (*Spooled, error) {
	if l.minFreeBytes > 0 {
		free, err := l.freeBytes(l.spoolDir)
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "blobstore", "statfs", l.spoolDir, err)
		}
		if free < l.minFreeBytes {
			return nil, services.Wrap(services.ErrInsufficientStorage, "blobstore", "spool",
				fmt.Sprintf("%d MiB free, %d MiB required", free>>20, l.minFreeBytes>>20), nil)
		}
	}

	file, err := os.CreateTemp(l.spoolDir, "upload-*.part")
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "blobstore", "create spool file", "", err)
	}
	path := file.Name()
	cleanup := func() {
		_ = file.Close()
		_ = os.Remove(path)
	}

	hasher := fingerprint.NewHasher()
	reader := r
	if maxBytes > 0 {
		reader = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(io.MultiWriter(file, hasher), reader)
	if err != nil {
		cleanup()
		return nil, services.Wrap(services.ErrStorage, "blobstore", "write spool file", "", err)
	}
	if maxBytes > 0 && n > maxBytes {
		cleanup()
		return nil, services.Wrap(services.ErrTooLarge, "blobstore", "spool", fmt.Sprintf("upload exceeds %d bytes", maxBytes), nil)
	}
	if n == 0 {
		cleanup()
		return nil, services.Wrap(services.ErrValidation, "blobstore", "spool", "upload is empty", nil)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return nil, services.Wrap(services.ErrStorage, "blobstore", "close spool file", "", err)
	}
	return &Spooled{Path: path, Key: hasher.Sum(), Size: n}, nil
}

// Commit moves a spooled upload to its permanent location for callID and
// returns the absolute path.
func (l *Local) Commit(sp *Spooled, callID, ext string) (string, error) {
	if sp == nil {
		return "", services.Wrap(services.ErrValidation, "blobstore", "commit", "nothing spooled", nil)
	}
	name := callID + ext
	if callID == "" || strings.ContainsAny(name, `/\`) {
		return "", services.Wrap(services.ErrValidation, "blobstore", "commit", fmt.Sprintf("invalid blob name %q", name), nil)
	}
	dest := filepath.Join(l.root, name)
	if err := fileutil.MoveFile(sp.Path, dest); err != nil {
		return "", services.Wrap(services.ErrStorage, "blobstore", "commit", dest, err)
	}
	return dest, nil
}

// Discard removes a spooled upload that will not be committed.
func (l *Local) Discard(sp *Spooled) {
	if sp == nil || sp.Path == "" {
		return
	}
	_ = os.Remove(sp.Path)
}

// Delete removes a committed blob. A blob that is already gone counts as deleted.
func (l *Local) Delete(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return services.Wrap(services.ErrValidation, "blobstore", "delete", path, err)
	}
	rel, err := filepath.Rel(l.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return services.Wrap(services.ErrValidation, "blobstore", "delete", fmt.Sprintf("%s is outside %s", abs, l.root), nil)
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrStorage, "blobstore", "delete", abs, err)
	}
	return nil
}

// Exists reports whether a committed blob is present.
func (l *Local) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// PurgeSpool removes spool files left behind by a previous process.
func (l *Local) PurgeSpool() (int, error) {
	entries, err := os.ReadDir(l.spoolDir)
	if err != nil {
		return 0, fmt.Errorf("read spool dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		if err := os.Remove(filepath.Join(l.spoolDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// FreeBytes reports the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
