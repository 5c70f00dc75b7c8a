package spatial

import (
	"errors"
	"fmt"
)

// ErrMissingCRS means a GeoJSON document carries no crs member.
var ErrMissingCRS = errors.New("missing crs member")

// CRSMember is the legacy named-CRS foreign member written at the top level
// of every FeatureCollection this module produces.
func CRSMember(c CRS) map[string]any {
	return map[string]any{
		"type":       "name",
		"properties": map[string]any{"name": c.URN()},
	}
}

// CRSFromMember decodes a crs member as found in geojson ExtraMembers.
func CRSFromMember(v any) (CRS, error) {
	if v == nil {
		return 0, ErrMissingCRS
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return 0, fmt.Errorf("crs member: unexpected %T", v)
	}
	props, ok := obj["properties"].(map[string]any)
	if !ok {
		return 0, fmt.Errorf("crs member: no properties")
	}
	name, ok := props["name"].(string)
	if !ok || name == "" {
		return 0, fmt.Errorf("crs member: no name")
	}
	return ParseCRS(name)
}
