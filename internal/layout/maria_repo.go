package layout

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/annel0/blockcodec/internal/registry"
	_ "github.com/go-sql-driver/mysql"
)

// MariaRepo реализует Repo для базы данных MariaDB/MySQL.
// Использует таблицы block_layout_versions и block_layout_ranges.
type MariaRepo struct {
	db *sql.DB
}

// NewMariaRepo создает новый репозиторий раскладок для MariaDB.
// Автоматически создает таблицы, если они не существуют.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaRepo(dsn string) (*MariaRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaRepo{db: db}

	// Создаем таблицы, если они не существуют
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}

	return repo, nil
}

func (r *MariaRepo) createTables() error {
	queries := []string{`
		CREATE TABLE IF NOT EXISTS block_layout_versions (
			name       VARCHAR(64)  PRIMARY KEY,
			protocol   INT          NOT NULL,
			updated_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE    CURRENT_TIMESTAMP
		) ENGINE=InnoDB
	`, `
		CREATE TABLE IF NOT EXISTS block_layout_ranges (
			version    VARCHAR(64)  NOT NULL,
			tag        VARCHAR(255) NOT NULL,
			start_id   INT UNSIGNED NOT NULL,
			state_count INT UNSIGNED NOT NULL,
			PRIMARY KEY (version, tag),
			INDEX idx_version_start (version, start_id)
		) ENGINE=InnoDB
	`}

	for _, q := range queries {
		if _, err := r.db.Exec(q); err != nil {
			return fmt.Errorf("ошибка создания таблиц раскладки: %w", err)
		}
	}
	return nil
}

// Save заменяет раскладку версии в одной транзакции.
func (r *MariaRepo) Save(ctx context.Context, version registry.Version, ranges []registry.RangeInfo) error {
	if version.Name == "" {
		return fmt.Errorf("недействительная версия: пустое имя")
	}
	if err := Validate(ranges); err != nil {
		return fmt.Errorf("раскладка %s: %w", version, err)
	}

	// Начинаем транзакцию
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() // Откат в случае ошибки

	_, err = tx.ExecContext(ctx, `
		INSERT INTO block_layout_versions (name, protocol)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE
			protocol = VALUES(protocol),
			updated_at = CURRENT_TIMESTAMP
	`, version.Name, version.Protocol)
	if err != nil {
		return fmt.Errorf("ошибка сохранения версии %s: %w", version, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM block_layout_ranges WHERE version = ?`, version.Name); err != nil {
		return fmt.Errorf("ошибка очистки раскладки %s: %w", version, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO block_layout_ranges (version, tag, start_id, state_count)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for _, rng := range ranges {
		if _, err = stmt.ExecContext(ctx, version.Name, rng.Tag, uint32(rng.Start), rng.Count); err != nil {
			return fmt.Errorf("ошибка сохранения диапазона %s: %w", rng.Tag, err)
		}
	}

	// Фиксируем транзакцию
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Load загружает раскладку версии в порядке диапазонов.
func (r *MariaRepo) Load(ctx context.Context, version string) ([]registry.RangeInfo, bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tag, start_id, state_count
		FROM block_layout_ranges
		WHERE version = ?
		ORDER BY start_id
	`, version)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки раскладки %s: %w", version, err)
	}
	defer rows.Close()

	var ranges []registry.RangeInfo
	for rows.Next() {
		var rng registry.RangeInfo
		var start uint32
		if err := rows.Scan(&rng.Tag, &start, &rng.Count); err != nil {
			return nil, false, fmt.Errorf("ошибка чтения диапазона: %w", err)
		}
		rng.Start = registry.GlobalID(start)
		ranges = append(ranges, rng)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("ошибка чтения раскладки %s: %w", version, err)
	}

	if len(ranges) == 0 {
		return nil, false, nil
	}
	return ranges, true, nil
}

// Versions перечисляет сохранённые версии по возрастанию протокола.
func (r *MariaRepo) Versions(ctx context.Context) ([]registry.Version, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, protocol FROM block_layout_versions ORDER BY protocol`)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки версий: %w", err)
	}
	defer rows.Close()

	var out []registry.Version
	for rows.Next() {
		var v registry.Version
		if err := rows.Scan(&v.Name, &v.Protocol); err != nil {
			return nil, fmt.Errorf("ошибка чтения версии: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Delete удаляет раскладку версии.
func (r *MariaRepo) Delete(ctx context.Context, version string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM block_layout_ranges WHERE version = ?`, version); err != nil {
		return fmt.Errorf("ошибка удаления раскладки %s: %w", version, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM block_layout_versions WHERE name = ?`, version)
	if err != nil {
		return fmt.Errorf("ошибка удаления версии %s: %w", version, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("раскладка версии %s не найдена", version)
	}

	return tx.Commit()
}

// Close закрывает соединение с базой данных.
func (r *MariaRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
