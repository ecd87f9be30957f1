package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	backupPrefix          = "backup_"
	backupTimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var reasonSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// BackupInfo describes one whole-file copy of the live store.
type BackupInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	SizeBytes int64     `json:"size_bytes"`
}

// BackupMirror copies a finished backup somewhere off-host.
type BackupMirror func(ctx context.Context, objectName string, localPath string) error

// BackupManager creates, lists and prunes backups in Dir.
// Callers hold the store lock so a backup and the mutation it guards stay paired.
type BackupManager struct {
	Dir    string
	Logger *logrus.Logger
	Mirror BackupMirror
	now    func() time.Time
}

func NewBackupManager(dir string, logger *logrus.Logger) *BackupManager {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &BackupManager{Dir: dir, Logger: logger, now: time.Now}
}

const gcsBackupPrefix = "backups/"

// GCSBackupMirror uploads backups under "backups/" in GCS_BUCKET.
func GCSBackupMirror(ctx context.Context, objectName string, localPath string) error {
	return utils.UploadFileToGCS(ctx, gcsBackupPrefix+objectName, localPath, "application/vnd.sqlite3")
}

// DeleteGCSBackupMirror removes the mirrored copy of a pruned backup.
func DeleteGCSBackupMirror(ctx context.Context, objectName string) error {
	return utils.DeleteObjectFromGCS(ctx, gcsBackupPrefix+objectName)
}

func sanitizeReason(reason string) string {
	r := strings.Trim(reasonSanitizer.ReplaceAllString(strings.TrimSpace(reason), "_"), "_")
	if r == "" {
		return "manual"
	}
	return r
}

// BackupFileName renders backup_<timestamp>_<reason><ext>. The timestamp is
// RFC 3339 UTC with milliseconds, with ':' and '.' replaced by '-'.
func BackupFileName(at time.Time, reason string, ext string) string {
	if ext == "" {
		ext = ".db"
	}
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(at.UTC().Format(backupTimestampLayout))
	return backupPrefix + ts + "_" + sanitizeReason(reason) + ext
}

// parseBackupName recovers the timestamp and reason from a backup file name.
func parseBackupName(name string) (time.Time, string, bool) {
	if !strings.HasPrefix(name, backupPrefix) {
		return time.Time{}, "", false
	}
	base := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), filepath.Ext(name))
	// 2026-10-18T12-30-45-123Z is 24 characters.
	const tsLen = 24
	if len(base) < tsLen+1 || base[tsLen] != '_' {
		return time.Time{}, "", false
	}
	raw := base[:tsLen]
	restored := raw[:13] + ":" + raw[14:16] + ":" + raw[17:19] + "." + raw[20:]
	ts, err := time.Parse(backupTimestampLayout, restored)
	if err != nil {
		return time.Time{}, "", false
	}
	return ts, base[tsLen+1:], true
}

func (m *BackupManager) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// Create writes a copy of the store at sourcePath into Dir and returns the new backup.
// With a non-nil db the copy is taken by VACUUM INTO on that handle, so it holds
// only committed transactions even while other writers share the pool.
// A nil db copies the file byte for byte.
func (m *BackupManager) Create(ctx context.Context, db *gorm.DB, sourcePath string, reason string) (BackupInfo, error) {
	ctx, span := tracer.Start(ctx, "BackupManager.Create")
	defer span.End()
	started := time.Now()

	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return BackupInfo{}, fmt.Errorf("create backup dir: %w", err)
	}

	now := m.clock()
	ext := filepath.Ext(sourcePath)
	name := BackupFileName(now, reason, ext)
	dest := filepath.Join(m.Dir, name)
	for i := 2; ; i++ {
		if _, err := os.Stat(dest); errors.Is(err, fs.ErrNotExist) {
			break
		}
		name = strings.TrimSuffix(BackupFileName(now, reason, ext), ext) + fmt.Sprintf("_%d", i) + ext
		dest = filepath.Join(m.Dir, name)
	}

	var size int64
	var err error
	if db != nil {
		size, err = vacuumInto(ctx, db, dest)
	} else {
		size, err = copyFile(sourcePath, dest)
	}
	if err != nil {
		span.RecordError(err)
		return BackupInfo{}, fmt.Errorf("backup %s: %w", sourcePath, err)
	}

	info := BackupInfo{
		Name:      name,
		Path:      dest,
		Timestamp: now.UTC(),
		Reason:    sanitizeReason(reason),
		SizeBytes: size,
	}
	backupsCreated.WithLabelValues(info.Reason).Inc()
	backupDuration.Observe(time.Since(started).Seconds())

	m.Logger.WithFields(logrus.Fields{
		"field":  "BackupManager.Create",
		"backup": info.Name,
		"reason": info.Reason,
		"size":   info.SizeBytes,
	}).Info("backup created")

	if m.Mirror != nil {
		if err := m.Mirror(ctx, name, dest); err != nil {
			config.LogError(m.Logger, "workflow", "BackupManager.Create", "mirror backup", name, err)
		}
	}
	return info, nil
}

// List returns backups newest first by modification time.
func (m *BackupManager) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []BackupInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	type listed struct {
		info    BackupInfo
		modTime time.Time
	}
	items := make([]listed, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		ts, reason, ok := parseBackupName(e.Name())
		if !ok {
			ts = fi.ModTime().UTC()
		}
		items = append(items, listed{
			info: BackupInfo{
				Name:      e.Name(),
				Path:      filepath.Join(m.Dir, e.Name()),
				Timestamp: ts,
				Reason:    reason,
				SizeBytes: fi.Size(),
			},
			modTime: fi.ModTime(),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].modTime.Equal(items[j].modTime) {
			return items[i].modTime.After(items[j].modTime)
		}
		return items[i].info.Name > items[j].info.Name
	})

	out := make([]BackupInfo, len(items))
	for i, it := range items {
		out[i] = it.info
	}
	return out, nil
}

// Resolve finds a backup by file name. Paths are rejected so a request
// cannot point outside Dir.
func (m *BackupManager) Resolve(name string) (BackupInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || !strings.HasPrefix(name, backupPrefix) {
		return BackupInfo{}, &utils.NotFoundError{Kind: "backup", Key: name}
	}
	path := filepath.Join(m.Dir, name)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return BackupInfo{}, &utils.NotFoundError{Kind: "backup", Key: name}
	}
	ts, reason, ok := parseBackupName(name)
	if !ok {
		ts = fi.ModTime().UTC()
	}
	return BackupInfo{Name: name, Path: path, Timestamp: ts, Reason: reason, SizeBytes: fi.Size()}, nil
}

// Prune deletes all but the newest keep backups and returns what it removed.
func (m *BackupManager) Prune(keep int) ([]BackupInfo, error) {
	if keep < 0 {
		keep = 0
	}
	all, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(all) <= keep {
		return []BackupInfo{}, nil
	}
	removed := make([]BackupInfo, 0, len(all)-keep)
	for _, b := range all[keep:] {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", b.Name, err)
		}
		removed = append(removed, b)
	}
	return removed, nil
}

// vacuumInto snapshots the database behind db into dst. SQLite runs it as a read
// transaction, so a half-written commit is never copied.
func vacuumInto(ctx context.Context, db *gorm.DB, dst string) (int64, error) {
	tmpName := filepath.Join(filepath.Dir(dst), ".vacuum-"+filepath.Base(dst))
	// VACUUM INTO refuses an existing target.
	if err := os.Remove(tmpName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	defer os.Remove(tmpName)

	if err := db.WithContext(ctx).Exec("VACUUM INTO ?", tmpName).Error; err != nil {
		return 0, fmt.Errorf("vacuum into: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, err
	}
	fi, err := os.Stat(dst)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// copyFile writes src to dst through a temp file in dst's directory so a
// partially written copy is never visible under the final name.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, err
	}
	return n, nil
}
