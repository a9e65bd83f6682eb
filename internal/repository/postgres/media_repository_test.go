package postgres

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"newsdesk/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// arrayConverter 让 []string 参数原样到达驱动，pgx 会把它编码为 text[]。
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if keys, ok := v.([]string); ok {
		return keys, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockRepository(t *testing.T) (*MediaRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewMediaRepository(db), mock
}

var createdAt = time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)

func mediaRow(key string, width any, tags any) []driver.Value {
	return []driver.Value{
		"01hx" + key, key, "s3", "Photo " + key, "image/png", "image", int64(2048),
		width, width, "alt", "caption", "news", tags, "u-1", createdAt,
	}
}

func TestCreate_EncodesTagsAndNullableDimensions(t *testing.T) {
	repo, mock := newMockRepository(t)
	width := 640

	mock.ExpectQuery("INSERT INTO media_files").
		WithArgs("01hxa", "news/a.png", "s3", "a.png", "image/png", "image", int64(2048),
			int64(640), nil, "", "", "news", []byte(`["news","sport"]`), "u-1").
		WillReturnRows(sqlmock.NewRows(mediaSelectColumns).
			AddRow("01hxa", "news/a.png", "s3", "a.png", "image/png", "image", int64(2048),
				int64(640), nil, "", "", "news", []byte(`["news","sport"]`), "u-1", createdAt))

	rec, err := repo.Create(context.Background(), &repository.MediaRecord{
		ID:           "01hxa",
		StorageKey:   "news/a.png",
		Backend:      "s3",
		OriginalName: "a.png",
		MimeType:     "image/png",
		MediaType:    "image",
		SizeBytes:    2048,
		Width:        &width,
		Folder:       "news",
		Tags:         []string{"news", "sport"},
		UploadedBy:   "u-1",
	})
	require.NoError(t, err)
	require.NotNil(t, rec.Width)
	assert.Equal(t, 640, *rec.Width)
	assert.Nil(t, rec.Height)
	assert.Equal(t, []string{"news", "sport"}, rec.Tags)
	assert.Equal(t, createdAt, rec.CreatedAt)
}

func TestCreate_NilTagsStoredAsEmptyArray(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("INSERT INTO media_files").
		WithArgs("01hxb", "b.txt", "local", "b.txt", "text/plain", "document", int64(1),
			nil, nil, "", "", "", []byte(`[]`), "").
		WillReturnRows(sqlmock.NewRows(mediaSelectColumns).
			AddRow("01hxb", "b.txt", "local", "b.txt", "text/plain", "document", int64(1),
				nil, nil, "", "", "", []byte(`[]`), "", createdAt))

	rec, err := repo.Create(context.Background(), &repository.MediaRecord{
		ID: "01hxb", StorageKey: "b.txt", Backend: "local", OriginalName: "b.txt",
		MimeType: "text/plain", MediaType: "document", SizeBytes: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{}, rec.Tags)
}

func TestGetByKey_MissingIsErrNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE backend = $1 AND storage_key = $2")).
		WithArgs("s3", "missing.png").
		WillReturnRows(sqlmock.NewRows(mediaSelectColumns))

	_, err := repo.GetByKey(context.Background(), "s3", "missing.png")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListByKeys_UsesArrayParameter(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("storage_key = ANY($2)")).
		WithArgs("s3", []string{"a.png", "b.png", "gone.png"}).
		WillReturnRows(sqlmock.NewRows(mediaSelectColumns).
			AddRow(mediaRow("a.png", int64(100), []byte(`["front"]`))...).
			AddRow(mediaRow("b.png", nil, nil)...))

	got, err := repo.ListByKeys(context.Background(), "s3", []string{"a.png", "b.png", "gone.png"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, []string{"front"}, got["a.png"].Tags)
	require.NotNil(t, got["a.png"].Width)
	assert.Equal(t, 100, *got["a.png"].Width)

	assert.Equal(t, []string{}, got["b.png"].Tags)
	assert.Nil(t, got["b.png"].Width)
	assert.NotContains(t, got, "gone.png")
}

func TestListByKeys_EmptyInputSkipsQuery(t *testing.T) {
	repo, _ := newMockRepository(t)

	got, err := repo.ListByKeys(context.Background(), "s3", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteByKey(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("DELETE FROM media_files").
		WithArgs("s3", "news/a.png").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM media_files").
		WithArgs("s3", "news/a.png").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.DeleteByKey(context.Background(), "s3", "news/a.png"))
	assert.ErrorIs(t, repo.DeleteByKey(context.Background(), "s3", "news/a.png"), repository.ErrNotFound)
}
