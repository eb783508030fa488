package shield

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("actiontype", func(fl validator.FieldLevel) bool {
			return ActionType(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("rfc3339", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(time.RFC3339, fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

// validateReport checks an ActionReport before any network call.
// Missing required fields are reported first, in declaration order.
func validateReport(r ActionReport) error {
	err := structValidator().Struct(r)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return validationError(opReportAction, err.Error())
	}

	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			return validationError(opReportAction, fmt.Sprintf("%s is required", fe.Field()))
		}
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "actiontype":
		return validationError(opReportAction, fmt.Sprintf("invalid actionType %q: must be one of %s", fe.Value(), joinActionTypes()))
	case "rfc3339":
		return validationError(opReportAction, fmt.Sprintf("%s must be an RFC 3339 timestamp", fe.Field()))
	default:
		return validationError(opReportAction, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
	}
}

func joinActionTypes() string {
	names := make([]string, len(ActionTypes))
	for i, t := range ActionTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
