package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrBlockNotFound = errors.New("block not found")

// BlockRecord is the persisted header of a produced block.
type BlockRecord struct {
	Height    uint64    `json:"height"`
	TimeNanos uint64    `json:"time"`
	TxCount   int       `json:"tx_count"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) InsertBlock(ctx context.Context, block *BlockRecord) error {
	block.CreatedAt = time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO blocks (height, time_nanos, tx_count, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(height) DO UPDATE SET time_nanos = excluded.time_nanos, tx_count = excluded.tx_count
	`, int64(block.Height), int64(block.TimeNanos), block.TxCount, block.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

func (s *Store) LatestBlock(ctx context.Context) (*BlockRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT height, time_nanos, tx_count, created_at
		FROM blocks ORDER BY height DESC LIMIT 1
	`)
	block, err := scanBlock(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBlockNotFound
		}
		return nil, err
	}
	return block, nil
}

func (s *Store) ListBlocks(ctx context.Context, limit, offset int) ([]*BlockRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT height, time_nanos, tx_count, created_at
		FROM blocks
		ORDER BY height DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()
	var blocks []*BlockRecord
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}

func scanBlock(scanner interface {
	Scan(dest ...any) error
}) (*BlockRecord, error) {
	var (
		height    int64
		timeNanos int64
		txCount   int
		createdAt string
	)
	if err := scanner.Scan(&height, &timeNanos, &txCount, &createdAt); err != nil {
		return nil, fmt.Errorf("scan block: %w", err)
	}
	block := &BlockRecord{
		Height:    uint64(height),
		TimeNanos: uint64(timeNanos),
		TxCount:   txCount,
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		block.CreatedAt = t
	}
	return block, nil
}
