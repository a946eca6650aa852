package provider

import "errors"

// ErrNoResponse is returned when a provider closes its channels without
// emitting a final response.
var ErrNoResponse = errors.New("provider closed without a final response")
