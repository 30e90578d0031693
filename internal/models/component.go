package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ComponentID identifies one running CSC instance. Index disambiguates
// multiple instances of the same component type (0 for non-indexed CSCs).
type ComponentID struct {
	Name  string `json:"csc"`
	Index int    `json:"salindex"`
}

func (c ComponentID) String() string {
	return fmt.Sprintf("%s.%d", c.Name, c.Index)
}

// ParseComponentID parses "Name.index" back into a ComponentID.
func ParseComponentID(s string) (ComponentID, error) {
	dot := strings.LastIndex(s, ".")
	if dot <= 0 || dot == len(s)-1 {
		return ComponentID{}, fmt.Errorf("invalid component id %q", s)
	}
	index, err := strconv.Atoi(s[dot+1:])
	if err != nil {
		return ComponentID{}, fmt.Errorf("invalid component index in %q: %w", s, err)
	}
	return ComponentID{Name: s[:dot], Index: index}, nil
}
