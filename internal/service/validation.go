package service

import (
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/learnhub/messaging-service/pkg/util"
)

// Participant ids double as document field names for read marks, so they are
// restricted to a path-safe alphabet.
var participantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("participantid", func(fl validator.FieldLevel) bool {
		return participantIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// validationError converts validator output into a ValidationError keyed by field.
func validationError(message string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewValidationError(message, map[string]any{"reason": err.Error()})
	}
	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Namespace()] = fe.Tag()
	}
	return apperrors.NewValidationError(message, details)
}
