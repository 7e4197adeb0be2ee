// Package page picks the screen to render. Navigation is an in-memory
// selector, not a URL router: the browser asks for a page and the session
// decides what it actually gets.
package page

type Page string

const (
	Home       Page = "home"
	Login      Page = "login"
	Register   Page = "register"
	Onboarding Page = "onboarding"
	Profile    Page = "profile"
	Users      Page = "users"
	Chat       Page = "chat"
	Map        Page = "map"
)

var known = map[Page]bool{
	Home: true, Login: true, Register: true, Onboarding: true,
	Profile: true, Users: true, Chat: true, Map: true,
}

// Valid reports whether p names a screen.
func (p Page) Valid() bool { return known[p] }

// Select returns the screen for the given session state and requested page.
// Pending onboarding wins over everything. Logged-out visitors may see the
// login and register forms, otherwise home. Signed-in users land on their
// profile unless they asked for one of the member screens.
func Select(loggedIn bool, current Page, pendingOnboarding bool) Page {
	if pendingOnboarding {
		return Onboarding
	}
	if !loggedIn {
		switch current {
		case Login, Register:
			return current
		}
		return Home
	}
	switch current {
	case Profile, Users, Chat, Map:
		return current
	}
	return Profile
}
