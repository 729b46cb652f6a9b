package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// fileSnapshot is the on-disk layout written after each mutation.
type fileSnapshot struct {
	Entries map[string]string `json:"entries"`
	SavedAt time.Time         `json:"saved_at"`
	seq     uint64
}

// fileCommand models every operation executed against the entries map.
type fileCommand struct {
	action string
	key    string
	value  []byte
	reply  chan fileResult
}

// fileResult carries either a value or an error back to the caller.
type fileResult struct {
	value []byte
	err   error
}

// FileStore keeps entries in memory, guarded by a dedicated goroutine, and
// mirrors them to a JSON snapshot file so they survive restarts.
type FileStore struct {
	commands        chan fileCommand
	closed          chan struct{}
	persistRequests chan fileSnapshot
	entries         map[string]string
	seq             uint64
	path            string
	logger          logrus.FieldLogger

	writeMu   sync.Mutex
	written   uint64
	closeOnce sync.Once
}

// OpenFileStore loads the snapshot at path (if any) and starts the store goroutines.
func OpenFileStore(path string, logger logrus.FieldLogger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	loaded, err := readFileSnapshot(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot %s", path)
	}
	s := &FileStore{
		commands:        make(chan fileCommand),
		closed:          make(chan struct{}),
		persistRequests: make(chan fileSnapshot, 1),
		entries:         make(map[string]string),
		path:            path,
		logger:          logger.WithField("store", filepath.Base(path)),
	}
	if loaded != nil {
		for k, v := range loaded.Entries {
			s.entries[k] = v
		}
	}
	go s.loop()
	go s.persistenceLoop()
	return s, nil
}

// loop serializes every read and mutation so the map needs no locks.
func (s *FileStore) loop() {
	for {
		select {
		case cmd := <-s.commands:
			switch cmd.action {
			case "get":
				value, ok := s.entries[cmd.key]
				if !ok {
					cmd.reply <- fileResult{err: ErrNotFound}
					continue
				}
				cmd.reply <- fileResult{value: []byte(value)}
			case "set":
				s.entries[cmd.key] = string(cmd.value)
				s.queuePersist()
				cmd.reply <- fileResult{}
			case "delete":
				if _, ok := s.entries[cmd.key]; ok {
					delete(s.entries, cmd.key)
					s.queuePersist()
				}
				cmd.reply <- fileResult{}
			case "flush":
				cmd.reply <- fileResult{err: s.write(s.snapshot())}
			default:
				cmd.reply <- fileResult{err: errors.Errorf("unsupported action %s", cmd.action)}
			}
		case <-s.closed:
			return
		}
	}
}

// persistenceLoop writes snapshots asynchronously so the main loop stays responsive.
func (s *FileStore) persistenceLoop() {
	for {
		select {
		case snap := <-s.persistRequests:
			if err := s.write(snap); err != nil {
				s.logger.WithError(err).Warn("snapshot write failed")
			}
		case <-s.closed:
			return
		}
	}
}

// snapshot copies the entries; only the loop goroutine may call it.
func (s *FileStore) snapshot() fileSnapshot {
	s.seq++
	entries := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v
	}
	return fileSnapshot{Entries: entries, SavedAt: time.Now().UTC(), seq: s.seq}
}

// queuePersist hands the newest snapshot to the writer, replacing any stale one.
func (s *FileStore) queuePersist() {
	snap := s.snapshot()
	select {
	case s.persistRequests <- snap:
	default:
		select {
		case <-s.persistRequests:
		default:
		}
		s.persistRequests <- snap
	}
}

// write persists snap unless a newer snapshot already reached the disk.
func (s *FileStore) write(snap fileSnapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if snap.seq <= s.written {
		return nil
	}
	if err := writeFileSnapshot(s.path, snap); err != nil {
		return err
	}
	s.written = snap.seq
	return nil
}

func (s *FileStore) do(ctx context.Context, cmd fileCommand) ([]byte, error) {
	cmd.reply = make(chan fileResult, 1)
	select {
	case <-s.closed:
		return nil, ErrClosed
	default:
	}
	select {
	case s.commands <- cmd:
	case <-s.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.do(ctx, fileCommand{action: "get", key: key})
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.do(ctx, fileCommand{action: "set", key: key, value: append([]byte(nil), value...)})
	return err
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	_, err := s.do(ctx, fileCommand{action: "delete", key: key})
	return err
}

// Flush writes the current entries to disk before returning.
func (s *FileStore) Flush(ctx context.Context) error {
	_, err := s.do(ctx, fileCommand{action: "flush"})
	return err
}

// Close flushes pending state and stops the goroutines. Further calls return ErrClosed.
func (s *FileStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Flush(ctx)
	if errors.Is(err, ErrClosed) {
		err = nil
	}
	s.closeOnce.Do(func() { close(s.closed) })
	return err
}

// readFileSnapshot loads the persisted JSON file if it exists.
func readFileSnapshot(path string) (*fileSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// writeFileSnapshot replaces the file atomically through a temp file.
func writeFileSnapshot(path string, snap fileSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(temp, path)
}
