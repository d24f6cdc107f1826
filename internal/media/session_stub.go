//go:build !linux

package media

import "fmt"

// NewSession is unavailable off Linux; callers fall back to NoOpSession
func NewSession() (Session, error) {
	return nil, fmt.Errorf("media session not supported on this platform")
}
