package devicepool

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"quern/pkg/types"
)

// lockedFile serializes a read-modify-write cycle on device-pool.json. The
// flock lives on a stable sentinel path (dataPath+".lock"), never renamed,
// so its identity never changes out from under a waiting locker — renaming
// the data file itself while holding its flock would orphan the lock on
// the old inode and let the next locker acquire the newly-renamed file
// uncontested. The OS releases the flock automatically if the process dies
// mid-mutation, so a wedged lock never outlives its process, matching the
// teacher's per-device lock-file guarantee applied to the one pool file
// the spec calls for.
type lockedFile struct {
	dataPath string
	lock     *os.File
}

func acquireLock(dataPath string) (*lockedFile, error) {
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return nil, err
	}
	lock, err := os.OpenFile(dataPath+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		_ = lock.Close()
		return nil, err
	}
	return &lockedFile{dataPath: dataPath, lock: lock}, nil
}

func (l *lockedFile) release() {
	_ = unix.Flock(int(l.lock.Fd()), unix.LOCK_UN)
	_ = l.lock.Close()
}

// read parses the current file contents, returning an empty pool file if
// the file is new, missing, or empty.
func (l *lockedFile) read() (types.DevicePoolFile, error) {
	var file types.DevicePoolFile
	data, err := os.ReadFile(l.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			file.Devices = make(map[string]types.DeviceRecord)
			return file, nil
		}
		return file, err
	}
	if len(data) == 0 {
		file.Devices = make(map[string]types.DeviceRecord)
		return file, nil
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return file, err
	}
	if file.Devices == nil {
		file.Devices = make(map[string]types.DeviceRecord)
	}
	return file, nil
}

// write atomically replaces the data file contents: write to a sibling
// temp file, then rename over the original, so a crash mid-write never
// leaves a half-written pool file for the next reader.
func (l *lockedFile) write(file types.DevicePoolFile) error {
	file.Version = 1
	file.UpdatedAt = time.Now()

	tmp := l.dataPath + ".tmp"
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.dataPath)
}
