package model

import "time"

// UploadedFile - загруженный пользователем CSV с образцами.
// Хранится в таблице uploaded_files, после создания не изменяется.
type UploadedFile struct {
	// ID - идентификатор, выдаётся базой данных
	ID int64
	// OriginalFilename - имя файла, как его прислал клиент
	OriginalFilename string
	// StoragePath - путь к сохранённой копии в каталоге загрузок
	StoragePath string
	// Size - размер файла в байтах
	Size int64
	// Checksum - SHA-256 содержимого (hex)
	Checksum string
	// UserID - subject владельца из JWT
	UserID string
	// CreatedAt - время создания записи
	CreatedAt time.Time
}

// Sample - одна пара (имя, последовательность) из загруженного файла.
type Sample struct {
	ID     int64
	FileID int64
	// Row - номер строки в исходном CSV (начиная с 1, включая заголовок)
	Row int
	// Name - имя подозреваемого (непустое)
	Name string
	// Sequence - последовательность над {A,C,G,T} в верхнем регистре
	Sequence string
}
