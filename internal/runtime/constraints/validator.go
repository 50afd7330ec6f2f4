// Package constraints enforces the business rules on a decoded message after
// it has passed schema validation.
package constraints

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
	"github.com/drblury/restbridge/internal/runtime/model"
)

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// Violation describes one failed rule. Field is the JSON path of the value,
// e.g. "payload.amount"; Code is the failing rule tag.
type Violation struct {
	Field   string
	Code    string
	Message string
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// Validator wraps go-playground/validator with the message rules registered.
type Validator struct {
	validate *validator.Validate
	failFast bool
}

// New builds a Validator. With failFast only the first violation is reported.
func New(failFast bool) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("phone_e164", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return &Validator{validate: v, failFast: failFast}
}

// Violations returns every failed rule in field declaration order.
func (v *Validator) Violations(msg *model.IncomingMessage) []Violation {
	if msg == nil {
		return []Violation{{Field: "message", Code: "required", Message: "must not be null"}}
	}

	err := v.validate.Struct(msg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Violation{{Field: "message", Code: "invalid", Message: err.Error()}}
	}

	out := make([]Violation, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, Violation{
			Field:   fieldPath(fe.Namespace()),
			Code:    fe.Tag(),
			Message: describe(fe),
		})
		if v.failFast {
			break
		}
	}
	return out
}

// Validate returns nil for a conforming message, otherwise a single
// ConstraintViolation joining every violation with ", ".
func (v *Validator) Validate(msg *model.IncomingMessage) error {
	violations := v.Violations(msg)
	if len(violations) == 0 {
		return nil
	}
	parts := make([]string, len(violations))
	for i, violation := range violations {
		parts[i] = violation.String()
	}
	var cause error
	if msg == nil {
		cause = errspkg.ErrNilMessage
	}
	return errspkg.New(errspkg.KindConstraintViolation, strings.Join(parts, ", "), cause)
}

// fieldPath drops the root struct name: "IncomingMessage.payload.amount"
// becomes "payload.amount".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be null"
	case "notblank":
		return "must not be blank"
	case "min":
		return fmt.Sprintf("length must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("length must be at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "email":
		return "must be a well-formed email address"
	case "phone_e164":
		return "must be a valid phone number"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q rule", fe.Tag())
	}
}
