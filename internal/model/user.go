// Package model defines the data structures used throughout the application.
//
// Field names in JSON tags match the backend's column names (snake_case),
// so the same structs travel to the browser and to the REST backend.
package model

import (
	"sort"
	"strings"
	"time"

	"github.com/sakif/starhunters/internal/apperror"
	"github.com/sakif/starhunters/internal/leveling"
)

// MinAge is the youngest age the application accepts anywhere.
const MinAge = 18

// User represents a participant.
//
// Optional attributes use their zero value for "absent": an empty Name or a
// zero Age means the profile has not been filled in yet. Users created at
// first OAuth sign-in start out like that and are completed during onboarding.
type User struct {
	ID              string         `json:"id"`
	AuthUserID      string         `json:"auth_user_id,omitempty"` // external-auth identity, if any
	Name            string         `json:"name,omitempty"`
	Age             int            `json:"age,omitempty"`
	Gender          string         `json:"gender,omitempty"`
	Email           string         `json:"email,omitempty"`
	Orientation     string         `json:"orientation,omitempty"`
	Stars           int            `json:"stars"`
	Level           leveling.Level `json:"level"`
	ProfilePhotoURL string         `json:"profile_photo_url,omitempty"`
	Bio             string         `json:"bio,omitempty"`
	VisibleOnMap    bool           `json:"visible_on_map"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ProfileComplete reports whether the fields required to use the app
// (name, age, gender) are all present.
func (u *User) ProfileComplete() bool {
	return strings.TrimSpace(u.Name) != "" && u.Age > 0 && strings.TrimSpace(u.Gender) != ""
}

// UserPatch is a partial update. A nil field is left untouched.
//
// There is no Level field. Fields derives it from Stars, so
// every update that changes stars also writes the matching level.
type UserPatch struct {
	Name            *string
	Age             *int
	Gender          *string
	Email           *string
	Orientation     *string
	Stars           *int
	ProfilePhotoURL *string
	Bio             *string
	VisibleOnMap    *bool
}

// Validate checks the values that are set.
func (p UserPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return apperror.ValidationFailed("name", "name must not be empty")
	}
	if p.Age != nil && *p.Age < MinAge {
		return apperror.ValidationFailed("age", "age must be at least 18")
	}
	if p.Stars != nil && *p.Stars < 0 {
		return apperror.ValidationFailed("stars", "stars must not be negative")
	}
	return nil
}

// Empty reports whether the patch sets nothing.
func (p UserPatch) Empty() bool {
	return len(p.Fields()) == 0
}

// Fields returns the patch as column → value, including the derived level
// whenever stars is present.
func (p UserPatch) Fields() map[string]any {
	f := make(map[string]any)
	if p.Name != nil {
		f["name"] = strings.TrimSpace(*p.Name)
	}
	if p.Age != nil {
		f["age"] = *p.Age
	}
	if p.Gender != nil {
		f["gender"] = *p.Gender
	}
	if p.Email != nil {
		f["email"] = strings.TrimSpace(*p.Email)
	}
	if p.Orientation != nil {
		f["orientation"] = *p.Orientation
	}
	if p.Stars != nil {
		f["stars"] = *p.Stars
		f["level"] = string(leveling.For(*p.Stars))
	}
	if p.ProfilePhotoURL != nil {
		f["profile_photo_url"] = *p.ProfilePhotoURL
	}
	if p.Bio != nil {
		f["bio"] = *p.Bio
	}
	if p.VisibleOnMap != nil {
		f["visible_on_map"] = *p.VisibleOnMap
	}
	return f
}

// Columns returns the keys of Fields in a stable order.
func (p UserPatch) Columns() []string {
	f := p.Fields()
	cols := make([]string, 0, len(f))
	for k := range f {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Apply copies the patch onto u, including the derived level.
// In-memory backends and tests use it; REST backends send Fields instead.
func (p UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Age != nil {
		u.Age = *p.Age
	}
	if p.Gender != nil {
		u.Gender = *p.Gender
	}
	if p.Email != nil {
		u.Email = strings.TrimSpace(*p.Email)
	}
	if p.Orientation != nil {
		u.Orientation = *p.Orientation
	}
	if p.Stars != nil {
		u.Stars = *p.Stars
		u.Level = leveling.For(*p.Stars)
	}
	if p.ProfilePhotoURL != nil {
		u.ProfilePhotoURL = *p.ProfilePhotoURL
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.VisibleOnMap != nil {
		u.VisibleOnMap = *p.VisibleOnMap
	}
}

// PrepareNew validates a record about to be inserted and fills in the
// derived level. Backends call it from CreateUser.
func PrepareNew(u *User) error {
	if u.Stars < 0 {
		return apperror.ValidationFailed("stars", "stars must not be negative")
	}
	if u.Age != 0 && u.Age < MinAge {
		return apperror.ValidationFailed("age", "age must be at least 18")
	}
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.TrimSpace(u.Email)
	u.Level = leveling.For(u.Stars)
	return nil
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
