// Package errorcodes defines host errors reported to remote clients.
// HostError holds the two-character code and human-readable description.
package errorcodes

import "errors"

// Predefined host error instances.
var (
	Err00 = HostError{"00", "No error"}
	Err10 = HostError{"10", "Malformed request frame"}
	Err15 = HostError{"15", "Invalid input data"}
	Err17 = HostError{"17", "Operation prohibited by security settings"}
	Err29 = HostError{"29", "Request rate limit exceeded"}
	Err40 = HostError{"40", "No plugin claimed the request"}
	Err41 = HostError{"41", "Internal host error"}
	Err50 = HostError{"50", "Dispatcher unavailable"}
	Err68 = HostError{"68", "Plugin has been disabled"}
)

// HostError represents a host error with its code and description.
type HostError struct {
	Code        string // two-character error code
	Description string // human-readable description
}

// Error implements the Go error interface: "<Code>: <Description>".
func (e HostError) Error() string {
	return e.Code + ": " + e.Description
}

// CodeOnly returns only the error code (e.g., "40"), for embedding in responses.
func (e HostError) CodeOnly() string {
	return e.Code
}

// Code extracts the host error code from err, falling back to Err41.
func Code(err error) string {
	if err == nil {
		return Err00.Code
	}

	var he HostError
	if errors.As(err, &he) {
		return he.Code
	}

	return Err41.Code
}

var byCode = map[string]HostError{
	Err00.Code: Err00,
	Err10.Code: Err10,
	Err15.Code: Err15,
	Err17.Code: Err17,
	Err29.Code: Err29,
	Err40.Code: Err40,
	Err41.Code: Err41,
	Err50.Code: Err50,
	Err68.Code: Err68,
}

// Lookup returns the HostError for code. Unknown codes map to Err41.
func Lookup(code string) HostError {
	if he, ok := byCode[code]; ok {
		return he
	}

	return Err41
}
