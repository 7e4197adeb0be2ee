package session

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/auth"
	"github.com/sakif/starhunters/internal/model"
)

// Accepted values of the registration form's select boxes.
var (
	registerGenders = []string{"hombre", "mujer", "nobinario", "nodecir"}
	orientations    = []string{"heterosexual", "homosexual", "bisexual", "otra", "nodecir"}
	// Onboarding offers a narrower choice.
	onboardingGenders = []string{"hombre", "mujer"}
)

const (
	MaxOnboardingAge = 99
	MinBioLength     = 20
)

// RegisterForm is the sign-up form.
type RegisterForm struct {
	Name         string `json:"name"`
	Age          int    `json:"age"`
	Gender       string `json:"gender"`
	Orientation  string `json:"orientation"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	AgeConfirmed bool   `json:"age_confirmed"`
	AcceptTerms  bool   `json:"accept_terms"`
}

// Validate checks the form locally and normalizes it in place. No request
// is made before it passes.
func (f *RegisterForm) Validate() error {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return apperror.ValidationFailed("name", "name is required")
	}
	if f.Age < model.MinAge {
		return apperror.ValidationFailed("age", "you must be at least 18 years old")
	}
	if !slices.Contains(registerGenders, f.Gender) {
		return apperror.ValidationFailed("gender", "choose a gender option")
	}
	if f.Orientation != "" && !slices.Contains(orientations, f.Orientation) {
		return apperror.ValidationFailed("orientation", "choose an orientation option")
	}

	email, err := auth.NormalizeEmail(f.Email)
	if err != nil {
		return err
	}
	f.Email = email

	if err := auth.ValidatePassword(f.Password); err != nil {
		return err
	}
	if !f.AgeConfirmed {
		return apperror.ValidationFailed("age_confirmed", "you must confirm you are of legal age")
	}
	if !f.AcceptTerms {
		return apperror.ValidationFailed("accept_terms", "you must accept the terms and conditions")
	}
	return nil
}

// OnboardingForm completes a stub created at first external sign-in.
type OnboardingForm struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
	Bio    string `json:"bio"`
}

func (f *OnboardingForm) Validate() error {
	f.Name = strings.TrimSpace(f.Name)
	f.Bio = strings.TrimSpace(f.Bio)
	if f.Name == "" {
		return apperror.ValidationFailed("name", "name is required")
	}
	if f.Age < model.MinAge || f.Age > MaxOnboardingAge {
		return apperror.ValidationFailed("age", "age must be between 18 and 99")
	}
	if !slices.Contains(onboardingGenders, f.Gender) {
		return apperror.ValidationFailed("gender", "choose a gender option")
	}
	if utf8.RuneCountInString(f.Bio) < MinBioLength {
		return apperror.ValidationFailed("bio", "bio must be at least 20 characters")
	}
	return nil
}

func (f OnboardingForm) patch() model.UserPatch {
	return model.UserPatch{
		Name:   model.Ptr(f.Name),
		Age:    model.Ptr(f.Age),
		Gender: model.Ptr(f.Gender),
		Bio:    model.Ptr(f.Bio),
	}
}
