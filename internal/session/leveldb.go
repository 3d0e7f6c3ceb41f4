package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/tus-upload-server/backend/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const levelKeyPrefix = "upload:"

// LevelRepository stores sessions as JSON records in an embedded LevelDB.
// LevelDB holds an exclusive file lock, so one process owns the directory;
// the mutex makes the version check and the put atomic within that process.
type LevelRepository struct {
	mu  sync.Mutex
	db  *leveldb.DB
	log logrus.FieldLogger
}

var _ Repository = (*LevelRepository)(nil)

// NewLevelRepository opens (or creates) a LevelDB database in dir.
func NewLevelRepository(dir string, log logrus.FieldLogger) (*LevelRepository, error) {
	opts := &opt.Options{
		CompactionTableSize: 1024 * 1024 * 4,
		WriteBuffer:         1024 * 1024 * 4,
	}
	db, err := leveldb.OpenFile(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}

	log = log.WithField("component", "levelstore")
	log.WithField("path", dir).Info("opened session database")
	return &LevelRepository{db: db, log: log}, nil
}

func levelKey(uploadID string) []byte {
	return []byte(levelKeyPrefix + uploadID)
}

func (r *LevelRepository) FindByID(_ context.Context, uploadID string) (*models.Upload, error) {
	data, err := r.db.Get(levelKey(uploadID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var u models.Upload
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &u, nil
}

func (r *LevelRepository) FindExpired(ctx context.Context, now time.Time) ([]*models.Upload, error) {
	return r.scan(ctx, func(u *models.Upload) bool { return u.IsExpired(now) })
}

func (r *LevelRepository) FindIncomplete(ctx context.Context) ([]*models.Upload, error) {
	return r.scan(ctx, func(u *models.Upload) bool { return !u.Completed })
}

func (r *LevelRepository) scan(ctx context.Context, keep func(*models.Upload) bool) ([]*models.Upload, error) {
	iter := r.db.NewIterator(util.BytesPrefix([]byte(levelKeyPrefix)), nil)
	defer iter.Release()

	var list []*models.Upload
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var u models.Upload
		if err := json.Unmarshal(iter.Value(), &u); err != nil {
			r.log.WithError(err).WithField("key", string(iter.Key())).Warn("skipping undecodable session record")
			continue
		}
		if keep(&u) {
			list = append(list, &u)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreateTime.Before(list[j].CreateTime)
	})
	return list, nil
}

func (r *LevelRepository) Save(_ context.Context, u *models.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := levelKey(u.UploadID)
	current, err := r.db.Get(key, nil)
	exists := err == nil
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("get session: %w", err)
	}

	if u.Version == 0 && exists {
		return ErrConflict
	}
	if u.Version != 0 {
		if !exists {
			return ErrConflict
		}
		var stored struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(current, &stored); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if stored.Version != u.Version {
			return ErrConflict
		}
	}

	next := u.Clone()
	next.Version++
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.db.Put(key, data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("put session: %w", err)
	}

	u.Version = next.Version
	return nil
}

func (r *LevelRepository) Remove(_ context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Delete(levelKey(uploadID), nil); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *LevelRepository) Close() error {
	return r.db.Close()
}
