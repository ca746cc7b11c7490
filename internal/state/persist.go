// SPDX-License-Identifier: MIT

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/trialbot/trialbot/internal/log"
)

// Save serializes a point-in-time snapshot to path. renameio gives us
// temp-file creation, fsync and an atomic rename, so a crash mid-write
// never leaves a partially written durable file behind.
func (s *Store) Save(path string) error {
	snap := s.Snapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending snapshot file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace snapshot: %w", err)
	}

	snapshotSaves.Inc()
	return nil
}

// Load restores the store from the durable file. A missing file is a
// fresh start, not an error. A corrupt file is logged and treated as
// empty state: availability wins over the in-flight dialogs it held.
func (s *Store) Load(path string) error {
	logger := log.WithComponent("state")

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info().Str("event", "state.fresh").Str("path", path).Msg("no snapshot file, starting with empty state")
		return nil
	}
	if err != nil {
		logger.Warn().Err(err).Str("event", "state.load_failed").Str("path", path).Msg("snapshot unreadable, starting with empty state")
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Warn().Err(err).Str("event", "state.corrupt").Str("path", path).Msg("snapshot corrupt, starting with empty state")
		return nil
	}

	s.Restore(snap)
	logger.Info().
		Str("event", "state.restored").
		Str("path", path).
		Int("sessions", len(snap.Sessions)).
		Int("banned", len(snap.Banned)).
		Int("pending", len(snap.Pending)).
		Msg("state restored from snapshot")
	return nil
}

// RunAutoSave persists the store every interval until ctx is cancelled,
// then writes one final snapshot on the way out.
func (s *Store) RunAutoSave(ctx context.Context, path string, interval time.Duration) error {
	logger := log.WithComponent("state")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Save(path); err != nil {
				logger.Error().Err(err).Str("event", "state.final_save_failed").Msg("final snapshot failed")
				return err
			}
			logger.Info().Str("event", "state.final_save").Str("path", path).Msg("final snapshot written")
			return nil
		case <-ticker.C:
			if err := s.Save(path); err != nil {
				logger.Error().Err(err).Str("event", "state.autosave_failed").Str("path", path).Msg("autosave failed")
				continue
			}
			logger.Debug().Str("event", "state.autosave").Str("path", path).Msg("autosave complete")
		}
	}
}
