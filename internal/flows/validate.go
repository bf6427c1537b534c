package flows

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/teecode611-cmyk/studio/internal/media"
)

// ValidationError is a field-scoped rejection of a flow input. It is raised
// before any model call and implies no state change.
type ValidationError struct {
	Flow    string `json:"-"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names so errors line up with the wire format.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}

	if err := v.RegisterValidation("datauri", func(fl validator.FieldLevel) bool {
		d, err := media.ParseDataURI(fl.Field().String())
		if err != nil {
			return false
		}
		return fl.Param() == "" || d.Kind() == fl.Param()
	}); err != nil {
		panic(err)
	}

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		in := sl.Current().Interface().(StartSessionInput)
		if strings.TrimSpace(in.Problem) == "" && strings.TrimSpace(in.ImageDataURI) == "" {
			sl.ReportError(in.Problem, "problem", "Problem", "problem_or_image", "")
		}
	}, StartSessionInput{})

	return v
}

// check validates v and converts the first failure into a ValidationError,
// preferring the flow-specific message for the failing field.
func check(flow string, v any, messages map[string]string) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Flow: flow, Message: err.Error()}
	}

	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	msg, ok := messages[field+"."+fe.Tag()]
	if !ok {
		msg, ok = messages[fe.Field()]
	}
	if !ok {
		msg = defaultMessage(fe)
	}
	return &ValidationError{Flow: flow, Field: field, Message: msg}
}

func defaultMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required.", fe.Field())
	case "datauri":
		if fe.Param() != "" {
			return fmt.Sprintf("%s must be a base64 data URI with an %s MIME type.", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be a base64 data URI.", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s.", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid.", fe.Field())
	}
}
