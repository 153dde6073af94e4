package rider

import "errors"

var ErrRiderNotFound = errors.New("rider not found")

// Contact is the rider card shown to drivers. It comes from the directory.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}
