package ipc

import "context"

// handlerFunc serves one command. The returned value becomes the
// response data.
type handlerFunc func(ctx context.Context, c *client, req *Request) (interface{}, error)

func (s *Server) routes() map[CommandType]handlerFunc {
	return map[CommandType]handlerFunc{
		CmdStatus:        s.handleStatus,
		CmdPlay:          s.handlePlay,
		CmdToggle:        s.handleToggle,
		CmdPause:         s.handlePause,
		CmdResume:        s.handleResume,
		CmdNext:          s.handleNext,
		CmdPrev:          s.handlePrev,
		CmdSeek:          s.handleSeek,
		CmdSeekBy:        s.handleSeekBy,
		CmdVolume:        s.handleVolume,
		CmdKey:           s.handleKey,
		CmdSetPolicy:     s.handleSetPolicy,
		CmdToggleEffects: s.handleToggleEffects,
		CmdSearch:        s.handleSearch,
		CmdLike:          s.handleLike,
		CmdPlaylists:     s.handlePlaylists,
		CmdNavigate:      s.handleNavigate,

		CmdLiked:              s.handleLiked,
		CmdPlaylist:           s.handlePlaylist,
		CmdCreatePlaylist:     s.handleCreatePlaylist,
		CmdDeletePlaylist:     s.handleDeletePlaylist,
		CmdAddToPlaylist:      s.handleAddToPlaylist,
		CmdRemoveFromPlaylist: s.handleRemoveFromPlaylist,
		CmdSubscribe:          s.handleSubscribe,
		CmdUnsubscribe:        s.handleUnsubscribe,
	}
}

// quiet commands are polled and not logged
func quiet(cmd CommandType) bool {
	return cmd == CmdStatus
}
