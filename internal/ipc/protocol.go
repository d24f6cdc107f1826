// Package ipc handles inter-process communication between the daemon and clients.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/austinkregel/local-media/grooved/internal/library"
	"github.com/austinkregel/local-media/grooved/internal/session"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdStatus        CommandType = "status"
	CmdPlay          CommandType = "play"
	CmdToggle        CommandType = "toggle"
	CmdPause         CommandType = "pause"
	CmdResume        CommandType = "resume"
	CmdNext          CommandType = "next"
	CmdPrev          CommandType = "prev"
	CmdSeek          CommandType = "seek"
	CmdSeekBy        CommandType = "seekBy"
	CmdVolume        CommandType = "volume"
	CmdKey           CommandType = "key"
	CmdSetPolicy     CommandType = "setPolicy"
	CmdToggleEffects CommandType = "toggleEffects"
	CmdSearch        CommandType = "search"
	CmdLike          CommandType = "like"
	CmdPlaylists     CommandType = "playlists"
	CmdNavigate      CommandType = "navigate"

	// Library
	CmdLiked              CommandType = "liked"
	CmdPlaylist           CommandType = "playlist"
	CmdCreatePlaylist     CommandType = "createPlaylist"
	CmdDeletePlaylist     CommandType = "deletePlaylist"
	CmdAddToPlaylist      CommandType = "addToPlaylist"
	CmdRemoveFromPlaylist CommandType = "removeFromPlaylist"

	// Event streaming
	CmdSubscribe   CommandType = "subscribe"
	CmdUnsubscribe CommandType = "unsubscribe"
)

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PlayRequest is the data for a play command. With neither field set the
// current track resumes.
type PlayRequest struct {
	Index   *int   `json:"index,omitempty"`
	Locator string `json:"locator,omitempty"`
	Name    string `json:"name,omitempty"`
}

// SeekRequest is the data for a seek command
type SeekRequest struct {
	Fraction float64 `json:"fraction"` // 0.0 - 1.0
}

// SeekByRequest is the data for a seekBy command
type SeekByRequest struct {
	Delta float64 `json:"delta"` // seconds
}

// VolumeRequest is the data for a volume command
type VolumeRequest struct {
	Level float64 `json:"level"`
}

// VolumeResponse carries the level actually applied
type VolumeResponse struct {
	Level float64 `json:"level"`
}

// KeyRequest is the data for a key command, e.g. "space" or "ctrl+left"
type KeyRequest struct {
	Key string `json:"key"`
}

// PolicyRequest is the data for a setPolicy command. Policy, when set,
// overrides the individual flags.
type PolicyRequest struct {
	Policy  string `json:"policy,omitempty"`
	Repeat  *bool  `json:"repeat,omitempty"`
	Shuffle *bool  `json:"shuffle,omitempty"`
}

// EffectsResponse is the response to a toggleEffects command
type EffectsResponse struct {
	Engaged bool `json:"engaged"`
}

// SearchRequest is the data for a search command
type SearchRequest struct {
	Query string `json:"query"`
}

// LikeRequest is the data for a like command. An empty song likes the
// current track.
type LikeRequest struct {
	Song string `json:"song,omitempty"`
}

// LikeResponse is the response to a like command
type LikeResponse struct {
	Song  string `json:"song"`
	Liked bool   `json:"liked"`
}

// PlaylistsResponse is the response to a playlists command
type PlaylistsResponse struct {
	Pages     []string           `json:"pages"`
	Page      string             `json:"page,omitempty"`
	Liked     []string           `json:"liked"`
	Playlists []library.Playlist `json:"playlists"`
}

// PlaylistRequest names a playlist by ID (playlist, deletePlaylist)
type PlaylistRequest struct {
	ID string `json:"id"`
}

// CreatePlaylistRequest is the data for a createPlaylist command
type CreatePlaylistRequest struct {
	Name string `json:"name"`
}

// PlaylistSongRequest is the data for addToPlaylist and removeFromPlaylist.
// An empty song means the current track.
type PlaylistSongRequest struct {
	ID   string `json:"id"`
	Song string `json:"song,omitempty"`
}

// PlaylistSongResponse reports whether the playlist changed
type PlaylistSongResponse struct {
	Playlist library.Playlist `json:"playlist"`
	Song     string           `json:"song"`
	Changed  bool             `json:"changed"`
}

// NavigateRequest is the data for a navigate command
type NavigateRequest struct {
	Page string `json:"page"`
}

// EventPayload is the data of a pushed session event
type EventPayload struct {
	Status  *session.Status `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Time    int64           `json:"time"` // Unix ms
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// NewRequest builds a request, encoding data when non-nil
func NewRequest(cmd CommandType, data interface{}) (*Request, error) {
	req := &Request{Cmd: cmd}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		req.Data = raw
	}
	return req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data interface{}) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for streaming data
func NewPushMessage(msgType string, data interface{}) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	msg := PushMessage{
		Type: msgType,
		Data: rawData,
	}
	return json.Marshal(msg)
}

// EventMessage encodes a session event as a push message
func EventMessage(ev session.Event) ([]byte, error) {
	return NewPushMessage(string(ev.Type), EventPayload{
		Status:  ev.Status,
		Message: ev.Message,
		Time:    ev.Time.UnixMilli(),
	})
}
