package memstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aarthikrao/wal"
	"go.uber.org/zap"

	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

// OpenWAL opens the write-ahead log in dir, creating it when missing.
func OpenWAL(dir string, log *zap.Logger) (*wal.WriteAheadLog, error) {
	return wal.NewWriteAheadLog(&wal.WALOptions{
		LogDir:            dir,
		MaxLogSize:        40 * 1024 * 1024, // 40 MB (log rotation size)
		MaxSegments:       2,
		Log:               log,
		MaxWaitBeforeSync: 1 * time.Second,
		SyncMaxBytes:      1000,
	})
}

// record is one journaled mutation.
type record struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Store) journal(req wire.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	b, err := json.Marshal(record{Command: req.Command(), Payload: payload})
	if err != nil {
		return err
	}
	_, err = s.log.Write(b)
	return err
}

// replay applies every journaled mutation in order. Records that no longer
// fit the schema are skipped.
func (s *Store) replay() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var applied, skipped int
	err := s.log.Replay(0, func(b []byte) error {
		var rec record
		if err := json.Unmarshal(b, &rec); err != nil {
			return fmt.Errorf("decoding record: %w", err)
		}
		req, err := wire.NewRequest(rec.Command)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(rec.Payload, req); err != nil {
			return fmt.Errorf("decoding %s: %w", rec.Command, err)
		}
		apply, err := s.prepare(req)
		if err != nil {
			s.logger.Warn("skipping journaled mutation", zap.String("command", rec.Command), zap.Error(err))
			skipped++
			return nil
		}
		apply()
		applied++
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("write-ahead log replayed", zap.Int("applied", applied), zap.Int("skipped", skipped))
	return nil
}
