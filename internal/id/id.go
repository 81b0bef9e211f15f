// Package id provides unique identifier generation for events.
package id

import "github.com/google/uuid"

// UUID is the default generator.
var UUID Generator = &uuidGen{}

// Generator is an interface for generating unique random identifiers.
type Generator interface {
	New() string
}

type uuidGen struct{}

func (*uuidGen) New() string {
	return uuid.NewString()
}
