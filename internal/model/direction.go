package model

import (
	"fmt"
	"strings"
)

// Direction selects which ledger a batch targets.
type Direction string

const (
	DirectionCost    Direction = "cost"
	DirectionRevenue Direction = "revenue"
)

// Directions lists every ledger direction in display order.
var Directions = []Direction{DirectionCost, DirectionRevenue}

// Role is the counterparty label the extractor populates.
type Role string

const (
	RoleVendor Role = "vendor"
	RoleClient Role = "client"
)

// Role returns the counterparty role for the direction: costs are billed by
// vendors, revenue is billed to clients.
func (d Direction) Role() Role {
	if d == DirectionRevenue {
		return RoleClient
	}
	return RoleVendor
}

// ParseDirection accepts a direction, a role, or the input/output aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cost", "costs", "vendor", "input":
		return DirectionCost, nil
	case "revenue", "client", "output":
		return DirectionRevenue, nil
	}
	return "", fmt.Errorf("unknown direction %q (want cost or revenue)", s)
}

// Document is a raw uploaded file. It lives for the duration of one batch.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
}
