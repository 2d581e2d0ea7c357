package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/dnasearch/internal/domain/model"
)

// FileRepository - загруженные файлы и их образцы.
type FileRepository interface {
	// Create сохраняет запись файла, заполняя ID и CreatedAt.
	Create(ctx context.Context, f *model.UploadedFile) error
	// InsertSamples сохраняет образцы файла одной операцией COPY.
	InsertSamples(ctx context.Context, fileID int64, samples []model.Sample) (int64, error)
}

type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.UploadedFile) error {
	query := `
		INSERT INTO uploaded_files (original_filename, storage_path, size_bytes, checksum, user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		f.OriginalFilename, f.StoragePath, f.Size, f.Checksum, f.UserID,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения файла: %w", err)
	}
	return nil
}

func (r *fileRepo) InsertSamples(ctx context.Context, fileID int64, samples []model.Sample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	n, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"samples"},
		[]string{"file_id", "row_number", "suspect_name", "sequence"},
		pgx.CopyFromSlice(len(samples), func(i int) ([]any, error) {
			s := samples[i]
			return []any{fileID, int32(s.Row), s.Name, s.Sequence}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("ошибка сохранения образцов: %w", err)
	}
	return n, nil
}
