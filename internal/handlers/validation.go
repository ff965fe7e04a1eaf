package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/BradenHooton/otpdesk/internal/services"
)

// ValidationErrorResponse represents a validation error with field-level details
type ValidationErrorResponse struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var (
	validate = newValidator()

	otpCodePattern = regexp.MustCompile(`^[0-9]{5,6}$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// accepts what the messaging service issues as login codes
	_ = v.RegisterValidation("otpcode", func(fl validator.FieldLevel) bool {
		return otpCodePattern.MatchString(fl.Field().String())
	})
	// international numbers only, with the separators NormalizePhone strips
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		_, err := services.NormalizePhone(fl.Field().String())
		return err == nil
	})
	return v
}

// ValidateRequest validates a request struct and returns the first field error
// in a user-friendly form
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		first := ValidationErrorResponse{Field: ve[0].Field(), Message: formatValidationError(ve[0])}
		return fmt.Errorf("validation failed: %s: %s", first.Field, first.Message)
	}
	return fmt.Errorf("validation failed: %w", err)
}

// decodeAndValidate reads a JSON body into dst and validates it
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return ValidateRequest(dst)
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "phone":
		return "must be an international phone number such as +15551234567"
	case "otpcode":
		return "must be the 5 or 6 digit code"
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
