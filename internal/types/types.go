// Package types provides shared type definitions used across the grooved daemon.
package types

import (
	"net/url"
	"path"
	"strings"
)

// Track is one playable entry. Tracks are immutable once fetched.
type Track struct {
	// ID is the playlist-relative name as listed ("a.mp3"). Empty for
	// pass-through and external tracks.
	ID string `json:"id,omitempty"`
	// Locator is the resolvable address handed to the audio element
	Locator    string `json:"locator"`
	Name       string `json:"name"`
	Artist     string `json:"artist,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	// External marks search results; they are never persisted
	External bool `json:"external,omitempty"`
}

// NewTrack builds a playlist entry from its listed name and resolved locator.
func NewTrack(id, locator string) Track {
	return Track{ID: id, Locator: locator, Name: DisplayName(id)}
}

// DisplayName decodes percent-escapes and strips the file extension.
func DisplayName(id string) string {
	name := DecodeSegment(id)
	if ext := path.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// DecodeSegment percent-decodes s, returning it unchanged when malformed.
func DecodeSegment(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// Direction is the way Advance moves through a playlist
type Direction int

const (
	Next Direction = iota
	Previous
)

// String returns the string representation of the direction
func (d Direction) String() string {
	if d == Previous {
		return "previous"
	}
	return "next"
}

// AdvancePolicy decides which track follows the current one
type AdvancePolicy int

const (
	Sequential AdvancePolicy = iota
	RepeatOne
	ShuffleNoRepeat
)

// String returns the string representation of the policy
func (p AdvancePolicy) String() string {
	switch p {
	case RepeatOne:
		return "repeat-one"
	case ShuffleNoRepeat:
		return "shuffle"
	default:
		return "sequential"
	}
}

// ParseAdvancePolicy parses a string into an AdvancePolicy
func ParseAdvancePolicy(s string) AdvancePolicy {
	switch s {
	case "repeat-one", "one":
		return RepeatOne
	case "shuffle":
		return ShuffleNoRepeat
	default:
		return Sequential
	}
}

// PolicyFromFlags resolves independent repeat/shuffle toggles into one
// policy. Repeat wins when both are set.
func PolicyFromFlags(repeat, shuffle bool) AdvancePolicy {
	switch {
	case repeat:
		return RepeatOne
	case shuffle:
		return ShuffleNoRepeat
	default:
		return Sequential
	}
}
