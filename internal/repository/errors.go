package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrBalanceNotFound    = errors.New("余额账户不存在")
	ErrOptimisticLock     = errors.New("乐观锁冲突，请重试")
	ErrEntryNotFound      = errors.New("流水不存在")
	ErrPlanNotFound       = errors.New("理财计划不存在")
	ErrInvestmentNotFound = errors.New("理财单不存在")
	ErrWithdrawalNotFound = errors.New("提现单不存在")
	ErrStatusConflict     = errors.New("状态已变更")
	ErrInvalidTransition  = errors.New("状态流转不合法")
)

const (
	mysqlDuplicateEntry   = 1062
	postgresUniqueViolate = "23505"
)

// IsDuplicateKey 判断是否撞了唯一索引
// 幂等屏障依赖这个判断：撞索引 = 已经处理过
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresUniqueViolate
	}

	// SQLite 没有导出错误码类型，只能看报错信息
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsUnavailable 判断是否为存储层的瞬时故障（连接断开、超时等），调用方可以重试
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func notFound(err error, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}

func use(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}
