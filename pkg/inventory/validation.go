package inventory

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags of in and converts the first failure.
func (m *Manager) validateStruct(in any) error {
	err := m.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewValidationError(fe.Field(), describeTag(fe), fmt.Sprint(fe.Value()))
	}
	return NewValidationError("input", err.Error(), "")
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "failed " + fe.Tag()
}

var barcodePattern = regexp.MustCompile(`^[0-9A-Za-z\-_.]+$`)

// ValidateBarcode checks a scanned code
// ตรวจสอบรูปแบบบาร์โค้ด
func ValidateBarcode(code string) error {
	if code == "" {
		return NewValidationError("barcode", "is required", code)
	}
	if len(code) > 64 {
		return NewValidationError("barcode", "must be at most 64 characters", code)
	}
	if !barcodePattern.MatchString(code) {
		return NewValidationError("barcode", "contains invalid characters", code)
	}
	return nil
}

// ValidateMoney checks a THB amount: non-negative with at most two decimals
// ตรวจสอบจำนวนเงิน
func ValidateMoney(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return NewValidationError(field, "must not be negative", d.String())
	}
	if !d.Equal(d.Round(2)) {
		return NewValidationError(field, "must have at most 2 decimal places", d.String())
	}
	return nil
}

// ValidateOptionalMoney is ValidateMoney for nullable columns.
func ValidateOptionalMoney(field string, d decimal.NullDecimal) error {
	if !d.Valid {
		return nil
	}
	return ValidateMoney(field, d.Decimal)
}

// ValidateName checks a master or product label.
func ValidateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError(field, "is required", name)
	}
	if utf8.RuneCountInString(name) > 200 {
		return NewValidationError(field, "must be at most 200 characters", name)
	}
	return nil
}

// validateMovementRules enforces the channel rules of each movement type:
// IN needs ซื้อเข้า, RETURN needs รับคืน and a return customer type, and OUT
// may use neither.
func validateMovementRules(t MovementType, channel string, returnCustomerType *string) error {
	switch t {
	case MovementIn:
		if channel != ChannelPurchaseIn {
			return NewValidationError("channel", "IN movements must use channel "+ChannelPurchaseIn, channel)
		}
		if returnCustomerType != nil {
			return NewValidationError("return_customer_type", "only RETURN movements carry a return customer type", *returnCustomerType)
		}
	case MovementReturn:
		if channel != ChannelReturnIn {
			return NewValidationError("channel", "RETURN movements must use channel "+ChannelReturnIn, channel)
		}
		if returnCustomerType == nil || strings.TrimSpace(*returnCustomerType) == "" {
			return NewValidationError("return_customer_type", "is required for RETURN movements", "")
		}
	case MovementOut:
		if channel == "" {
			return NewValidationError("channel", "is required for OUT movements", "")
		}
		if channel == ChannelPurchaseIn || channel == ChannelReturnIn {
			return NewValidationError("channel", "OUT movements may not use "+channel, channel)
		}
		if returnCustomerType != nil {
			return NewValidationError("return_customer_type", "only RETURN movements carry a return customer type", *returnCustomerType)
		}
	default:
		return NewValidationError("type", "must be IN, OUT or RETURN", string(t))
	}
	return nil
}

// validateMovementRefs checks that platform and customer refs fit the channel.
func validateMovementRefs(channel string, platformID, customerID *int64) error {
	if platformID != nil && channel != ChannelOnline && channel != ChannelReturnIn {
		return NewValidationError("online_platform_id", "only online sales and returns name a platform", channel)
	}
	if customerID != nil && channel != ChannelWholesale && channel != ChannelReturnIn {
		return NewValidationError("wholesale_customer_id", "only wholesale sales and returns name a customer", channel)
	}
	return nil
}
