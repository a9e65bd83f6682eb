package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"newsdesk/internal/repository"
)

// NewMediaRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewMediaRepository(db *sql.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// MediaRepository 实现 repository.MediaRepository。
type MediaRepository struct {
	db *sql.DB
}

var _ repository.MediaRepository = (*MediaRepository)(nil)

var mediaSelectColumns = []string{
	"id",
	"storage_key",
	"backend",
	"original_name",
	"mime_type",
	"media_type",
	"size_bytes",
	"width",
	"height",
	"alt",
	"caption",
	"folder",
	"tags",
	"uploaded_by",
	"created_at",
}

var mediaInsertColumns = mediaSelectColumns[:len(mediaSelectColumns)-1]

// Create 插入媒体记录，created_at 由数据库生成。
func (r *MediaRepository) Create(ctx context.Context, record *repository.MediaRecord) (*repository.MediaRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("media record is nil")
	}

	tags, err := encodeTags(record.Tags)
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(mediaInsertColumns))
	for i := range mediaInsertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO media_files (%s)
	VALUES (%s)
	RETURNING %s`,
		strings.Join(mediaInsertColumns, ","),
		strings.Join(placeholders, ","),
		strings.Join(mediaSelectColumns, ","),
	)

	row := r.db.QueryRowContext(
		ctx,
		query,
		record.ID,
		record.StorageKey,
		record.Backend,
		record.OriginalName,
		record.MimeType,
		record.MediaType,
		record.SizeBytes,
		nullInt(record.Width),
		nullInt(record.Height),
		record.Alt,
		record.Caption,
		record.Folder,
		tags,
		record.UploadedBy,
	)

	return scanMediaRecord(row)
}

// GetByKey 按后端与存储 key 查询。
func (r *MediaRepository) GetByKey(ctx context.Context, backend, key string) (*repository.MediaRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM media_files WHERE backend = $1 AND storage_key = $2`, strings.Join(mediaSelectColumns, ","))
	rec, err := scanMediaRecord(r.db.QueryRowContext(ctx, query, backend, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListByKeys 批量读取一页列举结果对应的记录，返回以 key 为索引的 map。
func (r *MediaRepository) ListByKeys(ctx context.Context, backend string, keys []string) (map[string]repository.MediaRecord, error) {
	result := make(map[string]repository.MediaRecord, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM media_files WHERE backend = $1 AND storage_key = ANY($2)`, strings.Join(mediaSelectColumns, ","))
	rows, err := r.db.QueryContext(ctx, query, backend, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanMediaRecord(rows)
		if err != nil {
			return nil, err
		}
		result[rec.StorageKey] = *rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteByKey 删除记录，不存在时返回 ErrNotFound。
func (r *MediaRepository) DeleteByKey(ctx context.Context, backend, key string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM media_files WHERE backend = $1 AND storage_key = $2`, backend, key)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMediaRecord(rs rowScanner) (*repository.MediaRecord, error) {
	var (
		rec    repository.MediaRecord
		width  sql.NullInt64
		height sql.NullInt64
		tags   []byte
	)

	if err := rs.Scan(
		&rec.ID,
		&rec.StorageKey,
		&rec.Backend,
		&rec.OriginalName,
		&rec.MimeType,
		&rec.MediaType,
		&rec.SizeBytes,
		&width,
		&height,
		&rec.Alt,
		&rec.Caption,
		&rec.Folder,
		&tags,
		&rec.UploadedBy,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	if width.Valid {
		w := int(width.Int64)
		rec.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		rec.Height = &h
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &rec.Tags); err != nil {
			return nil, err
		}
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	return &rec, nil
}

func encodeTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(tags)
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
