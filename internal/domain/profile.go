package domain

import (
	"regexp"
	"strings"
)

const (
	FieldName        = "name"
	FieldEmail       = "email"
	FieldCompany     = "company"
	FieldDesignation = "designation"
	FieldPhoto       = "file"
)

const (
	MessagePhotoRequired = "Please upload an image."
	MessagePhotoType     = "Please upload a valid image file (.jpg, .jpeg, .png, .svg)"
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

type Profile struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Company     string `json:"company"`
	Designation string `json:"designation"`
}

// Validate checks every profile field and returns all failures at once.
func (p Profile) Validate() FieldErrors {
	errs := FieldErrors{}
	for _, field := range []string{FieldName, FieldEmail, FieldCompany, FieldDesignation} {
		if err := p.ValidateField(field); err != nil {
			errs[field] = err
		}
	}
	return errs
}

// ValidateField checks a single field, the way the form does on every change.
func (p Profile) ValidateField(field string) *FieldError {
	switch field {
	case FieldName:
		return required(field, p.Name, "Name is required.")
	case FieldEmail:
		if err := required(field, p.Email, "Email is required."); err != nil {
			return err
		}
		if !emailPattern.MatchString(p.Email) {
			return &FieldError{Field: field, Kind: ErrInvalidEmailFormat, Message: "Enter a valid email."}
		}
		return nil
	case FieldCompany:
		return required(field, p.Company, "Company is required.")
	case FieldDesignation:
		return required(field, p.Designation, "Designation is required.")
	default:
		return nil
	}
}

func required(field, value, message string) *FieldError {
	if strings.TrimSpace(value) == "" {
		return &FieldError{Field: field, Kind: ErrMissingRequiredField, Message: message}
	}
	return nil
}
