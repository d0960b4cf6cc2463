package model

import (
	"fmt"
	"strings"
)

// Direction qualifies a relation filter relative to the start topic.
type Direction string

const (
	DirectionBoth     Direction = ""
	DirectionOutgoing Direction = "OUTGOING"
	DirectionIncoming Direction = "INCOMING"
)

// RelationFilter excludes relations of a type, optionally only in one direction.
type RelationFilter struct {
	TypeID    string
	Direction Direction
}

// ParseRelationFilter parses "<relationTypeId>" or "<relationTypeId>;<DIRECTION>".
func ParseRelationFilter(s string) (RelationFilter, error) {
	typeID, dir, qualified := strings.Cut(s, ";")
	if typeID == "" {
		return RelationFilter{}, fmt.Errorf("%w: empty relation type in filter %q", ErrFormat, s)
	}
	f := RelationFilter{TypeID: typeID}
	if !qualified {
		return f, nil
	}
	switch Direction(dir) {
	case DirectionOutgoing, DirectionIncoming:
		f.Direction = Direction(dir)
	default:
		return RelationFilter{}, fmt.Errorf("%w: invalid direction %q in filter %q", ErrFormat, dir, s)
	}
	return f, nil
}

// ParseRelationFilters parses every filter string.
func ParseRelationFilters(ss []string) ([]RelationFilter, error) {
	filters := make([]RelationFilter, 0, len(ss))
	for _, s := range ss {
		f, err := ParseRelationFilter(s)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// Excludes reports whether a relation of relType between start and other
// matches the filter. startIsOrigin is true when start is the edge's source.
func (f RelationFilter) Excludes(relType string, startIsOrigin bool) bool {
	if f.TypeID != relType {
		return false
	}
	switch f.Direction {
	case DirectionOutgoing:
		return startIsOrigin
	case DirectionIncoming:
		return !startIsOrigin
	}
	return true
}

// String renders the filter in its textual syntax.
func (f RelationFilter) String() string {
	if f.Direction == DirectionBoth {
		return f.TypeID
	}
	return f.TypeID + ";" + string(f.Direction)
}
