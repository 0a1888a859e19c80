package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/nyaruka/phonenumbers"

	"semaphore/auth-core/internal/apperrors"
)

const (
	maxBodyBytes      = 1 << 20
	maxPasswordLength = 128
)

type registerRequest struct {
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Password string  `json:"password"`
}

func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&r.Phone, validation.Length(4, 32)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, maxPasswordLength)),
	)
}

func (r *registerRequest) normalize() { r.Email = normalizeEmail(r.Email) }

type loginRequest struct {
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Password string  `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Length(3, 254)),
		validation.Field(&r.Phone, validation.Length(4, 32)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordLength)),
	)
}

func (r *loginRequest) normalize() { r.Email = normalizeEmail(r.Email) }

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r refreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

type updateProfileRequest struct {
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

func (r updateProfileRequest) Validate() error {
	if r.Email == nil && r.Phone == nil {
		return validation.Errors{"email_or_phone": errors.New("at least one field is required")}
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&r.Phone, validation.Length(4, 32)),
	)
}

func (r *updateProfileRequest) normalize() { r.Email = normalizeEmail(r.Email) }

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r changePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required, validation.Length(1, maxPasswordLength)),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, maxPasswordLength)),
	)
}

// decodeRequest reads a JSON body into out and runs its validation rules.
func decodeRequest(r *http.Request, out validation.Validatable) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return apperrors.Validation("Invalid request body", "body")
	}
	if n, ok := out.(interface{ normalize() }); ok {
		n.normalize()
	}
	if err := out.Validate(); err != nil {
		return validationFailure(err)
	}
	return nil
}

func validationFailure(err error) error {
	details := map[string]string{}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		for field, fieldErr := range fieldErrs {
			details[field] = fieldErr.Error()
		}
	} else {
		details["body"] = err.Error()
	}
	return withStatus(apperrors.Validation("Request validation failed", "").WithDetails(details), http.StatusUnprocessableEntity)
}

func normalizeEmail(value *string) *string {
	if value == nil {
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(*value))
	return &email
}

// normalizePhone rewrites value to E.164, interpreting national numbers in
// region. Empty strings pass through so callers can clear the field.
func normalizePhone(value *string, region string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	raw := strings.TrimSpace(*value)
	if raw == "" {
		return &raw, nil
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return nil, validationFailure(validation.Errors{"phone": errors.New("must be a valid phone number")})
	}
	formatted := phonenumbers.Format(num, phonenumbers.E164)
	return &formatted, nil
}
