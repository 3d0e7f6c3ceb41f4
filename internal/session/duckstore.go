package session

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/sirupsen/logrus"
	"github.com/tus-upload-server/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

const uploadColumns = `id, upload_id, filename, mime_type, total_size, upload_offset, metadata,
	storage_path, completed, complete_time, create_time, expired_time,
	checksum, checksum_algorithm, version`

// DuckRepository stores sessions in a DuckDB database file.
// The metadata map is kept as a msgpack BLOB; NULL means no metadata was sent.
type DuckRepository struct {
	db     *sql.DB
	dbPath string
	log    logrus.FieldLogger
}

var _ Repository = (*DuckRepository)(nil)

// NewDuckRepository opens (or creates) the database at dbPath and ensures the schema.
func NewDuckRepository(dbPath string, log logrus.FieldLogger) (*DuckRepository, error) {
	log = log.WithField("component", "duckstore")
	log.WithField("path", dbPath).Info("opening session database")

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS uploads (
			id                 VARCHAR NOT NULL,
			upload_id          VARCHAR PRIMARY KEY,
			filename           VARCHAR NOT NULL,
			mime_type          VARCHAR NOT NULL,
			total_size         BIGINT NOT NULL,
			upload_offset      BIGINT NOT NULL DEFAULT 0,
			metadata           BLOB,
			storage_path       VARCHAR NOT NULL,
			completed          BOOLEAN NOT NULL DEFAULT false,
			complete_time      TIMESTAMP,
			create_time        TIMESTAMP NOT NULL,
			expired_time       TIMESTAMP NOT NULL,
			checksum           VARCHAR NOT NULL DEFAULT '',
			checksum_algorithm VARCHAR NOT NULL DEFAULT '',
			version            BIGINT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	// expired_time is never updated, so the index stays valid for the sweep query.
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_uploads_expired ON uploads (expired_time)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &DuckRepository{db: db, dbPath: dbPath, log: log}, nil
}

func (r *DuckRepository) FindByID(ctx context.Context, uploadID string) (*models.Upload, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE upload_id = ?`, uploadID)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return u, nil
}

func (r *DuckRepository) FindExpired(ctx context.Context, now time.Time) ([]*models.Upload, error) {
	return r.query(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE expired_time < ? ORDER BY create_time`, now.UTC())
}

func (r *DuckRepository) FindIncomplete(ctx context.Context) ([]*models.Upload, error) {
	return r.query(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE completed = false ORDER BY create_time`)
}

func (r *DuckRepository) query(ctx context.Context, q string, args ...any) ([]*models.Upload, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var list []*models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

func (r *DuckRepository) Save(ctx context.Context, u *models.Upload) error {
	meta, err := encodeMetadata(u.Metadata)
	if err != nil {
		return err
	}
	// A nil []byte must reach the driver as NULL, not as an empty BLOB.
	var metaArg any
	if meta != nil {
		metaArg = meta
	}

	var res sql.Result
	if u.Version == 0 {
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO uploads (`+uploadColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			u.ID, u.UploadID, u.Filename, u.MimeType, u.Size, u.Offset, metaArg,
			u.StoragePath, u.Completed, nullableTime(u.CompleteTime), u.CreateTime.UTC(), u.ExpiredTime.UTC(),
			u.Checksum, u.ChecksumAlgorithm, u.Version+1,
		)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE uploads SET
				filename = ?, mime_type = ?, total_size = ?, upload_offset = ?, metadata = ?,
				storage_path = ?, completed = ?, complete_time = ?,
				checksum = ?, checksum_algorithm = ?, version = ?
			WHERE upload_id = ? AND version = ?`,
			u.Filename, u.MimeType, u.Size, u.Offset, metaArg,
			u.StoragePath, u.Completed, nullableTime(u.CompleteTime),
			u.Checksum, u.ChecksumAlgorithm, u.Version+1,
			u.UploadID, u.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}

	u.Version++
	return nil
}

func (r *DuckRepository) Remove(ctx context.Context, uploadID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *DuckRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (*models.Upload, error) {
	var (
		u            models.Upload
		meta         []byte
		completeTime sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.UploadID, &u.Filename, &u.MimeType, &u.Size, &u.Offset, &meta,
		&u.StoragePath, &u.Completed, &completeTime, &u.CreateTime, &u.ExpiredTime,
		&u.Checksum, &u.ChecksumAlgorithm, &u.Version,
	)
	if err != nil {
		return nil, err
	}

	if completeTime.Valid {
		t := completeTime.Time
		u.CompleteTime = &t
	}
	if u.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return &u, nil
}

func encodeMetadata(m models.Metadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := msgpack.Marshal(map[string]string(m))
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) (models.Metadata, error) {
	if b == nil {
		return nil, nil
	}
	m := make(models.Metadata)
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
