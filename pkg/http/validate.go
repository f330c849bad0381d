package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by the name the client sent: json body key,
// query parameter or path parameter.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, key := range []string{"json", "query", "param"} {
			name, _, _ := strings.Cut(f.Tag.Get(key), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// BindRequest binds path, query and body into req, fills `default:` tags
// and runs `validate:` rules. It returns nil when req is usable.
func BindRequest(c echo.Context, req any) []ValidationError {
	if err := c.Bind(req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return []ValidationError{{Code: "ERR_BIND", Message: fmt.Sprint(he.Message)}}
		}
		return []ValidationError{{Code: "ERR_BIND", Message: err.Error()}}
	}
	if err := defaults.Set(req); err != nil {
		return []ValidationError{{Code: "ERR_DEFAULTS", Message: err.Error()}}
	}
	err := validate.StructCtx(c.Request().Context(), req)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return []ValidationError{{Code: "ERR_INVALID", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(fields))
	for _, fe := range fields {
		out = append(out, fieldError(fe))
	}
	return out
}

func fieldError(fe validator.FieldError) ValidationError {
	field, param := fe.Field(), fe.Param()
	ve := ValidationError{Code: "ERR_" + strings.ToUpper(fe.Tag()), Field: field}
	switch fe.Tag() {
	case "required":
		ve.Message = field + " is required"
	case "oneof":
		options := strings.Fields(param)
		ve.Message = fmt.Sprintf("%s must be one of %s", field, strings.Join(options, ", "))
		ve.Params = map[string]any{"options": options}
	case "gt", "gte", "lt", "lte":
		ve.Message = fmt.Sprintf("%s must be %s %s", field, comparisons[fe.Tag()], param)
		ve.Params = map[string]any{"limit": param}
	default:
		ve.Message = fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
	return ve
}

var comparisons = map[string]string{
	"gt":  "greater than",
	"gte": "at least",
	"lt":  "less than",
	"lte": "at most",
}
