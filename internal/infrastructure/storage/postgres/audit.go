package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"ledgercore/internal/core/entity"
	"ledgercore/internal/domain/audit"
)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// defaultCompressThreshold is the changes size above which payloads are stored compressed.
const defaultCompressThreshold = 10 * 1024

// AuditService stores audit entries in sys_audit_log. It implements audit.Recorder.
type AuditService struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var _ audit.Recorder = (*AuditService)(nil)

// NewAuditService creates a new audit service.
func NewAuditService(txManager *TxManager) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AuditService{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: defaultCompressThreshold,
	}, nil
}

// Record inserts entry in the current transaction.
func (s *AuditService) Record(ctx context.Context, entry audit.Entry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	changes, compressed, algo, err := s.encodeChanges(entry.Changes)
	if err != nil {
		return err
	}

	_, err = s.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_audit_log (
			id, entity_type, entity_id, action, actor,
			changes, changes_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entity.NewID(), entry.EntityType, entry.EntityID, string(entry.Action), entry.Actor,
		changes, compressed, algo, entry.At)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", mapError(err))
	}
	return nil
}

// encodeChanges marshals changes and compresses payloads above the threshold.
func (s *AuditService) encodeChanges(changes map[string]any) ([]byte, []byte, CompressionAlgo, error) {
	if len(changes) == 0 {
		return nil, nil, CompressionNone, nil
	}
	raw, err := json.Marshal(changes)
	if err != nil {
		return nil, nil, "", fmt.Errorf("marshal changes: %w", err)
	}
	if len(raw) > s.compressThreshold {
		return nil, s.encoder.EncodeAll(raw, nil), CompressionZstd, nil
	}
	return raw, nil, CompressionNone, nil
}

// decodeChanges reverses encodeChanges.
func (s *AuditService) decodeChanges(changes, compressed []byte, algo CompressionAlgo) (map[string]any, error) {
	raw := changes
	if algo == CompressionZstd && len(compressed) > 0 {
		decompressed, err := s.decoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress changes: %w", err)
		}
		raw = decompressed
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal changes: %w", err)
	}
	return out, nil
}

// History returns the newest entries of an entity, newest first.
func (s *AuditService) History(ctx context.Context, entityType, entityID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, `
		SELECT entity_type, entity_id, action, actor,
		       changes, changes_compressed, compression_algo, created_at
		FROM sys_audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e          audit.Entry
			action     string
			changes    []byte
			compressed []byte
			algo       CompressionAlgo
		)
		if err := rows.Scan(&e.EntityType, &e.EntityID, &action, &e.Actor,
			&changes, &compressed, &algo, &e.At); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Action = audit.Action(action)
		if e.Changes, err = s.decodeChanges(changes, compressed, algo); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
