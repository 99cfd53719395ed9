package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devilrob/felshare-cloud/internal/device"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/database"
)

// Template command types. These name the learned request payloads, not
// device opcodes; the wire bytes live in the template itself.
const (
	TemplateStatusRequest = "status_request"
	TemplateBulkRequest   = "bulk_request"
)

// timeLayout is the timestamp encoding used in every table. RFC 3339
// keeps the columns readable in the sqlite3 shell.
const timeLayout = time.RFC3339Nano

// Snapshot is the manual state captured before the thermostat sync engine
// takes over the device, restored verbatim when sync disengages.
type Snapshot struct {
	Power      *bool            `json:"power,omitempty"`
	Schedule   *device.Schedule `json:"schedule,omitempty"`
	CapturedAt time.Time        `json:"captured_at"`
}

// Template is a learned request payload for one command type.
type Template struct {
	CommandType string
	Payload     []byte
	LearnedAt   time.Time
}

// Store provides persistence for snapshots, templates, and timestamps.
type Store struct {
	db *database.DB
}

// New creates a Store backed by the given database.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// SaveSnapshot upserts the manual snapshot for a device.
func (s *Store) SaveSnapshot(ctx context.Context, deviceID string, snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO manual_snapshots (device_id, captured_at, body)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			captured_at = excluded.captured_at,
			body        = excluded.body
	`, deviceID, snap.CapturedAt.UTC().Format(timeLayout), string(body))
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot retrieves the manual snapshot for a device.
//
// Returns:
//   - Snapshot: The stored snapshot
//   - error: ErrSnapshotNotFound if none exists
func (s *Store) LoadSnapshot(ctx context.Context, deviceID string) (Snapshot, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM manual_snapshots WHERE device_id = ?`, deviceID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("store: decode snapshot: %w", err)
	}
	return snap, nil
}

// ClearSnapshot removes the manual snapshot for a device. Clearing a
// snapshot that does not exist is not an error.
func (s *Store) ClearSnapshot(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM manual_snapshots WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("store: clear snapshot: %w", err)
	}
	return nil
}

// SaveTemplate upserts a learned payload template.
func (s *Store) SaveTemplate(ctx context.Context, deviceID string, tpl Template) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payload_templates (device_id, command_type, payload_hex, learned_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, command_type) DO UPDATE SET
			payload_hex = excluded.payload_hex,
			learned_at  = excluded.learned_at
	`, deviceID, tpl.CommandType, hex.EncodeToString(tpl.Payload),
		tpl.LearnedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("store: save template: %w", err)
	}
	return nil
}

// LoadTemplate retrieves a learned payload template.
//
// Returns:
//   - Template: The stored template with decoded payload bytes
//   - error: ErrTemplateNotLearned if none exists
func (s *Store) LoadTemplate(ctx context.Context, deviceID, commandType string) (Template, error) {
	var payloadHex, learnedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload_hex, learned_at FROM payload_templates
		WHERE device_id = ? AND command_type = ?
	`, deviceID, commandType).Scan(&payloadHex, &learnedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, ErrTemplateNotLearned
	}
	if err != nil {
		return Template{}, fmt.Errorf("store: load template: %w", err)
	}

	payload, err := hex.DecodeString(strings.TrimSpace(payloadHex))
	if err != nil {
		return Template{}, fmt.Errorf("store: decode template payload: %w", err)
	}
	tpl := Template{CommandType: commandType, Payload: payload}
	tpl.LearnedAt, _ = time.Parse(timeLayout, learnedAt)
	return tpl, nil
}

// SaveTimestamps upserts the throttling timestamps for a device. Zero
// timestamps are stored as NULL so a fresh restore does not look recent.
func (s *Store) SaveTimestamps(ctx context.Context, deviceID string, ts device.Timestamps) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_timestamps
			(device_id, last_seen, last_publish, last_status_request, last_bulk_request)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			last_seen           = excluded.last_seen,
			last_publish        = excluded.last_publish,
			last_status_request = excluded.last_status_request,
			last_bulk_request   = excluded.last_bulk_request
	`, deviceID,
		nullTime(ts.LastSeen),
		nullTime(ts.LastPublish),
		nullTime(ts.LastStatusRequest),
		nullTime(ts.LastBulkRequest))
	if err != nil {
		return fmt.Errorf("store: save timestamps: %w", err)
	}
	return nil
}

// LoadTimestamps retrieves the throttling timestamps for a device.
//
// Returns:
//   - device.Timestamps: Stored instants; absent columns stay zero
//   - error: ErrTimestampsNotFound if no row exists
func (s *Store) LoadTimestamps(ctx context.Context, deviceID string) (device.Timestamps, error) {
	var seen, publish, status, bulk sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT last_seen, last_publish, last_status_request, last_bulk_request
		FROM device_timestamps WHERE device_id = ?
	`, deviceID).Scan(&seen, &publish, &status, &bulk)
	if errors.Is(err, sql.ErrNoRows) {
		return device.Timestamps{}, ErrTimestampsNotFound
	}
	if err != nil {
		return device.Timestamps{}, fmt.Errorf("store: load timestamps: %w", err)
	}

	return device.Timestamps{
		LastSeen:          parseNullTime(seen),
		LastPublish:       parseNullTime(publish),
		LastStatusRequest: parseNullTime(status),
		LastBulkRequest:   parseNullTime(bulk),
	}, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
