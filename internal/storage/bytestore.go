// Пакет storage — byte store: непрозрачное хранение зашифрованных
// байтов файлов на диске по строковому ключу (storage path).
// Шифрование — AES-256-GCM; ключ поставляется внедряемым KeyProvider,
// а не глобальной константой, что позволяет ротацию и пер-тенантные ключи.
package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Ошибки byte store.
var (
	// ErrNotFound — блоб не найден.
	ErrNotFound = errors.New("блоб не найден")
	// ErrCorrupted — блоб повреждён или зашифрован другим ключом
	// (не прошла аутентификация GCM).
	ErrCorrupted = errors.New("блоб повреждён или ключ не подходит")
)

// KeyProvider поставляет ключ шифрования для блоба.
// Реализации могут выдавать разные ключи разным блобам (ротация,
// пер-тенантные ключи); ключ всегда 32 байта (AES-256).
type KeyProvider interface {
	Key(storagePath string) ([]byte, error)
}

// StaticKeyProvider — один ключ на все блобы, производится из секрета
// через SHA-256. Минимальная реализация для single-tenant развёртывания.
type StaticKeyProvider struct {
	key [32]byte
}

// NewStaticKeyProvider создаёт провайдер из строкового секрета.
func NewStaticKeyProvider(secret string) *StaticKeyProvider {
	return &StaticKeyProvider{key: sha256.Sum256([]byte(secret))}
}

// Key возвращает ключ шифрования.
func (p *StaticKeyProvider) Key(_ string) ([]byte, error) {
	return p.key[:], nil
}

// ByteStore — интерфейс хранилища зашифрованных байтов.
type ByteStore interface {
	// Store шифрует и сохраняет данные, возвращает storage path.
	Store(fileID string, data []byte) (string, error)
	// Retrieve читает и расшифровывает блоб по storage path.
	Retrieve(storagePath string) ([]byte, error)
	// Delete физически удаляет блоб.
	Delete(storagePath string) error
}

// FSStore — byte store поверх локальной файловой системы.
type FSStore struct {
	dir  string
	keys KeyProvider
}

// NewFSStore создаёт хранилище в каталоге dir.
// Каталог создаётся при необходимости.
func NewFSStore(dir string, keys KeyProvider) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога хранилища: %w", err)
	}
	return &FSStore{dir: dir, keys: keys}, nil
}

// Store шифрует data AES-256-GCM и записывает в файл <fileID>.enc.
// Nonce хранится в первых байтах блоба.
func (s *FSStore) Store(fileID string, data []byte) (string, error) {
	storagePath := fileID + ".enc"

	gcm, err := s.aead(storagePath)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, data, nil)

	if err := os.WriteFile(s.blobPath(storagePath), sealed, 0o640); err != nil {
		return "", fmt.Errorf("ошибка записи блоба: %w", err)
	}
	return storagePath, nil
}

// Retrieve читает блоб и расшифровывает его.
func (s *FSStore) Retrieve(storagePath string) ([]byte, error) {
	sealed, err := os.ReadFile(s.blobPath(storagePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения блоба: %w", err)
	}

	gcm, err := s.aead(storagePath)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, ErrCorrupted
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	data, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCorrupted
	}
	return data, nil
}

// Delete физически удаляет блоб. Отсутствующий блоб — не ошибка.
func (s *FSStore) Delete(storagePath string) error {
	err := os.Remove(s.blobPath(storagePath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления блоба: %w", err)
	}
	return nil
}

// aead создаёт AEAD cipher для блоба.
func (s *FSStore) aead(storagePath string) (cipher.AEAD, error) {
	key, err := s.keys.Key(storagePath)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ключа шифрования: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}
	return gcm, nil
}

// blobPath строит путь блоба внутри каталога хранилища.
// Компоненты пути в storagePath недопустимы.
func (s *FSStore) blobPath(storagePath string) string {
	clean := filepath.Base(strings.TrimSpace(storagePath))
	return filepath.Join(s.dir, clean)
}
