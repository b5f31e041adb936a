// internal/utils/validator.go
package utils

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	validate *validator.Validate

	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)
	tagPattern      = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} &'-]*$`)
)

func init() {
	validate = validator.New()

	// Report fields by their JSON names.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	validate.RegisterCustomTypeFunc(uuidValue, uuid.UUID{})

	validate.RegisterValidation("strong_password", validateStrongPassword)
	validate.RegisterValidation("username", validateUsername)
	validate.RegisterValidation("tag", validateTag)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// decimalValue lets numeric tags such as gte=0 apply to decimal amounts.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.InexactFloat64()
	}
	return nil
}

// uuidValue makes the nil UUID fail required.
func uuidValue(field reflect.Value) interface{} {
	if id, ok := field.Interface().(uuid.UUID); ok && id != uuid.Nil {
		return id.String()
	}
	return ""
}

func validateStrongPassword(fl validator.FieldLevel) bool {
	password := fl.Field().String()

	if len(password) < 8 {
		return false
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	return hasUpper && hasLower && hasNumber && hasSpecial
}

// Usernames double as ledger profile names, so they stay ASCII.
func validateUsername(fl validator.FieldLevel) bool {
	return usernamePattern.MatchString(fl.Field().String())
}

func validateTag(fl validator.FieldLevel) bool {
	return tagPattern.MatchString(strings.TrimSpace(fl.Field().String()))
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// GetValidationErrors flattens validator errors for the API envelope. It
// returns nil for anything else, including a nil error.
func GetValidationErrors(err error) []ValidationError {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return nil
	}

	out := make([]ValidationError, 0, len(validationErrs))
	for _, e := range validationErrs {
		out = append(out, ValidationError{
			Field:   fieldPath(e),
			Tag:     e.Tag(),
			Message: getValidationMessage(e),
		})
	}
	return out
}

// fieldPath drops the struct name from the namespace: "audio.url", "tags[2]".
func fieldPath(e validator.FieldError) string {
	namespace := e.Namespace()
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return e.Field()
}

func getValidationMessage(e validator.FieldError) string {
	field := fieldPath(e)
	switch e.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return "Invalid email format"
	case "url":
		return field + " must be a valid URL"
	case "min":
		if e.Kind() == reflect.String {
			return field + " must be at least " + e.Param() + " characters"
		}
		return field + " must be at least " + e.Param()
	case "max":
		switch e.Kind() {
		case reflect.String:
			return field + " must be at most " + e.Param() + " characters"
		case reflect.Slice:
			return field + " must have at most " + e.Param() + " entries"
		}
		return field + " must be at most " + e.Param()
	case "gte":
		return field + " must not be less than " + e.Param()
	case "strong_password":
		return "Password must contain at least 8 characters with uppercase, lowercase, number, and special character"
	case "username":
		return "Username must be 3-50 characters and contain only letters, numbers, and underscores"
	case "tag":
		return field + " must start with a letter or digit and contain no punctuation besides - & '"
	default:
		return field + " is invalid"
	}
}
