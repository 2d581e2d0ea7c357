// Пакет filestore - файлы загрузок и входные файлы движка на диске.
//
// Все записи атомарны: temp-файл → запись → fsync → rename.
// Имена уникальны в пределах каталога, поэтому конкурентные запросы
// не пересекаются.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTooLarge - содержимое превышает допустимый размер.
var ErrTooLarge = errors.New("файл превышает допустимый размер")

// FileStore - каталог с файлами одного назначения.
type FileStore struct {
	dir    string
	prefix string
}

// SaveResult - результат сохранения файла.
type SaveResult struct {
	// StoragePath - имя файла внутри каталога
	StoragePath string
	// FullPath - полный путь к файлу
	FullPath string
	// Size - размер записанных данных в байтах
	Size int64
	// Checksum - SHA-256 содержимого (hex)
	Checksum string
}

// New создаёт FileStore в каталоге dir. prefix используется
// в начале имён файлов (например, "adn" для загрузок).
func New(dir, prefix string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог %s: %w", dir, err)
	}

	return &FileStore{dir: dir, prefix: sanitize(prefix)}, nil
}

// Save записывает данные из reader с подсчётом SHA-256 на лету.
// Формат имени: {prefix}_{owner}_{timestamp}_{uuid8}{ext}, где ext берётся
// из originalFilename. maxSize <= 0 отключает ограничение размера;
// при превышении возвращается ErrTooLarge и ничего не остаётся на диске.
func (fs *FileStore) Save(reader io.Reader, originalFilename, owner string, maxSize int64) (*SaveResult, error) {
	ext := strings.ToLower(filepath.Ext(originalFilename))

	if maxSize > 0 {
		// +1 байт, чтобы отличить «ровно maxSize» от превышения
		reader = io.LimitReader(reader, maxSize+1)
	}

	hasher := sha256.New()
	var size int64
	res, err := fs.write(owner, ext, func(w io.Writer) error {
		n, err := io.Copy(w, io.TeeReader(reader, hasher))
		size = n
		if err != nil {
			return fmt.Errorf("ошибка записи данных: %w", err)
		}
		if maxSize > 0 && n > maxSize {
			return ErrTooLarge
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Size = size
	res.Checksum = hex.EncodeToString(hasher.Sum(nil))
	return res, nil
}

// Create создаёт новый файл с уникальным именем, содержимое пишет fn.
// При ошибке fn файл не создаётся.
func (fs *FileStore) Create(owner, ext string, fn func(w io.Writer) error) (*SaveResult, error) {
	return fs.write(owner, ext, fn)
}

func (fs *FileStore) write(owner, ext string, fn func(w io.Writer) error) (*SaveResult, error) {
	storageName := fs.generateName(owner, ext)
	fullPath := filepath.Join(fs.dir, storageName)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if err := fn(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{StoragePath: storageName, FullPath: fullPath}, nil
}

// fullPath возвращает полный путь к файлу.
func (fs *FileStore) fullPath(storagePath string) string {
	return filepath.Join(fs.dir, storagePath)
}

// Delete удаляет файл. Отсутствие файла ошибкой не считается.
func (fs *FileStore) Delete(storagePath string) error {
	err := os.Remove(fs.fullPath(storagePath))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// exists проверяет существование файла.
func (fs *FileStore) exists(storagePath string) bool {
	_, err := os.Stat(fs.fullPath(storagePath))
	return err == nil
}

// Dir возвращает каталог хранения.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// generateName генерирует уникальное имя файла.
// Пример: adn_42_20260221150405_a1b2c3d4.csv
func (fs *FileStore) generateName(owner, ext string) string {
	user := sanitize(owner)
	if len(user) > 20 {
		user = user[:20]
	}

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s_%s_%s_%s%s", fs.prefix, user, ts, uid, sanitizeExt(ext))
}

// sanitize оставляет только латинские буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return ""
	}
	clean := sanitize(ext)
	if clean == "file" && ext != "file" {
		return ""
	}
	return "." + clean
}
