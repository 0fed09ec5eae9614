package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"locamove/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	*sql.DB
	mu            sync.RWMutex
	catalogCache  map[int64]models.CatalogItem
	sortedCatalog []models.CatalogItem
	logger        *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Проверяем соединение
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	// Создаем таблицы
	if err := createTables(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{
		DB:           sqlDB,
		catalogCache: make(map[int64]models.CatalogItem),
		logger:       logger,
	}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Таблица бронирований
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            reference TEXT NOT NULL UNIQUE,
            user_id INTEGER NOT NULL,
            user_name TEXT NOT NULL,
            phone TEXT NOT NULL,
            catalog_id INTEGER NOT NULL,
            catalog_name TEXT NOT NULL,
            catalog_kind TEXT NOT NULL,
            start_date DATETIME NOT NULL,
            end_date DATETIME,
            base_rate REAL NOT NULL,
            options TEXT NOT NULL DEFAULT '[]',
            discount REAL NOT NULL DEFAULT 0,
            duration_units INTEGER NOT NULL DEFAULT 1,
            subtotal REAL NOT NULL DEFAULT 0,
            options_price REAL NOT NULL DEFAULT 0,
            total_amount REAL NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'pending',
            cancelled_at DATETIME,
            cancel_reason TEXT,
            refund_amount REAL NOT NULL DEFAULT 0,
            comment TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1
        )`,

		// Очередь возвратов
		`CREATE TABLE IF NOT EXISTS refund_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		// Индексы для бронирований
		`CREATE INDEX IF NOT EXISTS idx_bookings_reference ON bookings(reference)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_start_date ON bookings(start_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_catalog_id ON bookings(catalog_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,

		// Индексы очереди возвратов
		`CREATE INDEX IF NOT EXISTS idx_refund_queue_status ON refund_queue(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// SetCatalog устанавливает каталог для проверки доступности
func (db *DB) SetCatalog(items []models.CatalogItem) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.catalogCache = make(map[int64]models.CatalogItem, len(items))
	for _, item := range items {
		db.catalogCache[item.ID] = item
	}
	// Сохраняем также отсортированный список для выдачи наружу
	db.sortedCatalog = items
}

// GetCatalog возвращает каталог в исходном порядке
func (db *DB) GetCatalog() []models.CatalogItem {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]models.CatalogItem, len(db.sortedCatalog))
	copy(out, db.sortedCatalog)
	return out
}

// GetCatalogItem возвращает позицию каталога по ID
func (db *DB) GetCatalogItem(id int64) (models.CatalogItem, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	item, ok := db.catalogCache[id]
	return item, ok
}

func (db *DB) Close() error {
	return db.DB.Close()
}
