package dbstorage

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("data not exist")
)

type ErrorKind string

const (
	KindConflict  ErrorKind = "conflict"
	KindIOFailure ErrorKind = "io_failure"
)

// RepositoryError 存储层错误
// conflict只在内部使用（upsert会重试），对外可见的只有io_failure，调用方应视为不可恢复
type RepositoryError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

func ioFailure(op string, err error) error {
	return &RepositoryError{Kind: KindIOFailure, Op: op, Err: err}
}

// IsIOFailure 判断是否为存储不可用错误
func IsIOFailure(err error) bool {
	var re *RepositoryError
	return errors.As(err, &re) && re.Kind == KindIOFailure
}

// isConflict 唯一键冲突：其他进程/连接抢先写入了同一个canonical_url
func isConflict(err error) bool {
	var re *RepositoryError
	if errors.As(err, &re) && re.Kind == KindConflict {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
