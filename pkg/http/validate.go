package http

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json/query/param names so clients see the fields they sent
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query", "param"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	// decimal accepts exactly what the pricing code parses: rates, prices
	// and face values, including exponent forms such as 5e-2.
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(fl.Field().String())
		return err == nil
	})
	return v
}

// ReadAndValidateRequest binds path, query and body into req, applies
// `default` tags and validates it. It returns nil when req is valid, else
// one 400 AppError per failing field.
func ReadAndValidateRequest(c echo.Context, req interface{}) []*AppError {
	if err := c.Bind(req); err != nil {
		return requestErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return requestErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return requestErrors(err)
	}
	return nil
}

func requestErrors(err error) []*AppError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		errs := make([]*AppError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			e := NewAppError("ERR_"+strings.ToUpper(fe.Tag()), fe.Field(), getErrorMessage(fe), http.StatusBadRequest)
			for k, v := range getErrorParams(fe) {
				e.WithParam(k, v)
			}
			errs = append(errs, e)
		}
		return errs
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []*AppError{BadRequestError(fmt.Sprintf("%v", he.Message)).WithError(err)}
	}
	return []*AppError{BadRequestError(err.Error()).WithError(err)}
}

func getErrorMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "numeric":
		return fmt.Sprintf("%s must be a number", field)
	case "decimal":
		return fmt.Sprintf("%s must be a decimal number such as 0.0425", field)
	case "datetime":
		return fmt.Sprintf("%s must be a date formatted as %s", field, fe.Param())
	case "min":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func getErrorParams(fe validator.FieldError) map[string]interface{} {
	params := make(map[string]interface{}, 1)

	switch fe.Tag() {
	case "min", "gte":
		params["min"] = fe.Param()
	case "max", "lte":
		params["max"] = fe.Param()
	case "gt", "lt":
		params["value"] = fe.Param()
	case "oneof":
		params["options"] = strings.Split(fe.Param(), " ")
	case "datetime":
		params["layout"] = fe.Param()
	}

	return params
}
