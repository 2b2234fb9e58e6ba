package service

import (
	"errors"
	"fmt"

	"investledger/internal/repository"

	"github.com/shopspring/decimal"
)

// 错误分类：校验类错误直接返回调用方且不自动重试；StoreUnavailable 由调用方决定是否重试；
// AlreadyApplied 不会返回给调用方，只出现在日志和指标里
var (
	ErrInsufficientFunds      = errors.New("余额不足")
	ErrInvalidAmount          = errors.New("金额不合法")
	ErrPlanInactive           = errors.New("理财计划已下架")
	ErrNotFound               = errors.New("记录不存在")
	ErrInvalidStateTransition = errors.New("状态流转不合法")
	ErrAlreadyApplied         = errors.New("已处理，忽略重复请求")
	ErrStoreUnavailable       = errors.New("存储暂不可用，请稍后重试")
)

var (
	ErrAlreadyProcessed  = fmt.Errorf("%w: 提现单已被处理", ErrInvalidStateTransition)
	ErrExpired           = fmt.Errorf("%w: 提现单已过期", ErrInvalidStateTransition)
	ErrAmountOutOfRange  = fmt.Errorf("%w: 金额超出允许范围", ErrInvalidAmount)
	ErrReasonRequired    = fmt.Errorf("%w: 驳回必须填写原因", ErrInvalidAmount)
	ErrReferenceRequired = fmt.Errorf("%w: 该类型流水必须携带幂等键", ErrInvalidAmount)
	ErrInvalidRequest    = fmt.Errorf("%w: 请求参数错误", ErrInvalidAmount)
)

// InsufficientFundsError 余额不足时带上实际可用余额，方便调用方调整金额
type InsufficientFundsError struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("余额不足: 可用 %s, 需要 %s", e.Available.String(), e.Required.String())
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// IsValidationError 校验类错误，不应自动重试
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrPlanInactive) ||
		errors.Is(err, ErrInsufficientFunds)
}

// translateStoreErr 把仓储层错误翻译成对外的错误分类
func translateStoreErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repository.ErrBalanceNotFound),
		errors.Is(err, repository.ErrPlanNotFound),
		errors.Is(err, repository.ErrInvestmentNotFound),
		errors.Is(err, repository.ErrWithdrawalNotFound),
		errors.Is(err, repository.ErrEntryNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrInvalidTransition),
		errors.Is(err, repository.ErrStatusConflict):
		return fmt.Errorf("%w: %v", ErrInvalidStateTransition, err)
	case errors.Is(err, repository.ErrOptimisticLock), repository.IsUnavailable(err):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
