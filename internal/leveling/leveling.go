// Package leveling maps a star count to a loyalty tier.
//
// TIERS:
//
//	stars  0..10  → Bronce
//	stars 11..30  → Plata
//	stars 31..    → Oro
//
// The tier is a pure function of the star count. Nothing else in the
// application is allowed to decide a user's level; see model.UserPatch for
// the write path that keeps the stored level in sync with stars.
package leveling

import "fmt"

// Level is a tier label as stored in the backend ("Bronce", "Plata", "Oro").
type Level string

const (
	Bronce Level = "Bronce"
	Plata  Level = "Plata"
	Oro    Level = "Oro"
)

// Thresholds: the minimum star count for each tier above Bronce.
const (
	PlataStars = 11
	OroStars   = 31
)

// For returns the tier for the given star count.
// Negative input is treated like zero.
func For(stars int) Level {
	switch {
	case stars >= OroStars:
		return Oro
	case stars >= PlataStars:
		return Plata
	default:
		return Bronce
	}
}

// Rank orders tiers so callers can compare them. Unknown labels rank below Bronce.
func (l Level) Rank() int {
	switch l {
	case Bronce:
		return 1
	case Plata:
		return 2
	case Oro:
		return 3
	default:
		return 0
	}
}

// Valid reports whether l is one of the three known tiers.
func (l Level) Valid() bool {
	return l.Rank() > 0
}

// Progress describes how far a user is from the next tier.
// It backs the progress bar on the profile screen.
type Progress struct {
	Level     Level  `json:"level"`
	Next      Level  `json:"next,omitempty"`
	Remaining int    `json:"remaining"`
	Percent   int    `json:"percent"`
	Max       bool   `json:"max"`
	Label     string `json:"label"`
}

// ProgressFor computes tier progress for the given star count.
//
// Percent is measured against the Oro threshold and capped at 100, so the
// bar fills once across all three tiers rather than resetting per tier.
func ProgressFor(stars int) Progress {
	if stars < 0 {
		stars = 0
	}

	p := Progress{Level: For(stars)}

	pct := stars * 100 / OroStars
	if pct > 100 {
		pct = 100
	}
	p.Percent = pct

	switch p.Level {
	case Bronce:
		p.Next = Plata
		p.Remaining = PlataStars - stars
	case Plata:
		p.Next = Oro
		p.Remaining = OroStars - stars
	default:
		p.Max = true
	}

	if p.Max {
		p.Label = "¡Nivel máximo alcanzado!"
	} else {
		p.Label = formatRemaining(p.Remaining, p.Next)
	}

	return p
}

func formatRemaining(n int, next Level) string {
	unit := "estrellas"
	if n == 1 {
		unit = "estrella"
	}
	return fmt.Sprintf("%d %s para %s", n, unit, next)
}
