// Package sdputil edits session descriptions through pion/sdp instead of
// string splicing.
package sdputil

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

var directionAttrs = map[string]bool{
	"sendrecv": true,
	"sendonly": true,
	"recvonly": true,
	"inactive": true,
}

// Directions returns the direction of every media section keyed by media
// type. A section without a direction attribute is sendrecv. When several
// sections share a type the first one wins.
func Directions(raw string) (map[string]string, error) {
	desc := sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}

	out := make(map[string]string, len(desc.MediaDescriptions))
	for _, md := range desc.MediaDescriptions {
		kind := md.MediaName.Media
		if _, seen := out[kind]; seen {
			continue
		}
		out[kind] = "sendrecv"
		for _, attr := range md.Attributes {
			if directionAttrs[attr.Key] {
				out[kind] = attr.Key
				break
			}
		}
	}
	return out, nil
}

// SetDirections rewrites the direction attribute of each media section whose
// type appears in dirs. Sections of other types are left alone.
func SetDirections(raw string, dirs map[string]string) (string, error) {
	for kind, dir := range dirs {
		if !directionAttrs[dir] {
			return "", fmt.Errorf("unknown direction %q for %s", dir, kind)
		}
	}

	desc := sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("parse sdp: %w", err)
	}

	for _, md := range desc.MediaDescriptions {
		dir, ok := dirs[md.MediaName.Media]
		if !ok {
			continue
		}
		attrs := md.Attributes[:0]
		for _, attr := range md.Attributes {
			if !directionAttrs[attr.Key] {
				attrs = append(attrs, attr)
			}
		}
		md.Attributes = append(attrs, sdp.NewPropertyAttribute(dir))
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("encode sdp: %w", err)
	}
	return string(out), nil
}

// Matches reports whether every kind in dirs already has the wanted direction.
func Matches(raw string, dirs map[string]string) (bool, error) {
	have, err := Directions(raw)
	if err != nil {
		return false, err
	}
	for kind, dir := range dirs {
		if got, ok := have[kind]; ok && got != dir {
			return false, nil
		}
	}
	return true, nil
}
