package http

import "regexp"

var slugPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidSlug accepts instance names safe for use as registry keys and
// credential directory names.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

var phonePattern = regexp.MustCompile(`^[0-9+() .-]{8,20}$`)

// ValidPhone accepts phone-like subjects before normalization.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}
