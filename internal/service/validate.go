package service

import (
	"fmt"

	"investledger/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// validateStruct 校验命令结构体，失败统一归为参数错误
func validateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// checkAmount 金额必须为正，且小数位不超过 AmountScale
func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: 金额必须大于0", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(model.AmountScale)) {
		return fmt.Errorf("%w: 金额最多保留%d位小数", ErrInvalidAmount, model.AmountScale)
	}
	return nil
}
