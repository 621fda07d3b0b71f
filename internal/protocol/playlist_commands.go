package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/crazyscot/disorder/internal/auth"
	"github.com/crazyscot/disorder/internal/errors"
	"github.com/crazyscot/disorder/internal/playlist"
	"github.com/crazyscot/disorder/internal/trackdb"
)

// registerPlaylistCommands wires the playlists/playlist-get/playlist-set/
// playlist-lock/playlist-unlock/playlist-delete/playlist-get-share/
// playlist-set-share family (spec.md §4.6 "Playlists"). playlist-set is
// body-carrying: the command line only names the playlist, and the
// track-path list follows as a body terminated by a lone "." (spec.md
// §4.6 "Body-carrying commands").
func registerPlaylistCommands(d *Dispatcher) {
	d.Register(CommandSpec{Name: "playlists", MinArgs: 0, MaxArgs: 0, Rights: auth.Read, Handler: cmdPlaylists})
	d.Register(CommandSpec{Name: "playlist-get", MinArgs: 1, MaxArgs: 1, Rights: auth.Read, Handler: cmdPlaylistGet})
	d.Register(CommandSpec{Name: "playlist-set", MinArgs: 1, MaxArgs: 1, Rights: auth.Play, Handler: cmdPlaylistSet})
	d.Register(CommandSpec{Name: "playlist-lock", MinArgs: 1, MaxArgs: 1, Rights: auth.Play, Handler: cmdPlaylistLock})
	d.Register(CommandSpec{Name: "playlist-unlock", MinArgs: 0, MaxArgs: 0, Rights: auth.Play, Handler: cmdPlaylistUnlock})
	d.Register(CommandSpec{Name: "playlist-delete", MinArgs: 1, MaxArgs: 1, Rights: auth.Play, Handler: cmdPlaylistDelete})
	d.Register(CommandSpec{Name: "playlist-get-share", MinArgs: 1, MaxArgs: 1, Rights: auth.Read, Handler: cmdPlaylistGetShare})
	d.Register(CommandSpec{Name: "playlist-set-share", MinArgs: 2, MaxArgs: 2, Rights: auth.Play, Handler: cmdPlaylistSetShare})
}

func cmdPlaylists(s *Server, c *Conn, args []string) error {
	names, err := s.DB.ListPlaylists(context.Background())
	if err != nil {
		return errors.NewCommandError(550, "playlists", err)
	}
	c.WriteResponse(CodeBodyFollows, "playlists follow")
	c.WriteBody(names)
	return nil
}

// readablePlaylist fetches name, erroring unless c.user owns it, it's
// shared, or c.user holds admin rights (spec.md "playlist-get-share").
func readablePlaylist(s *Server, c *Conn, name string) (*trackdb.Playlist, error) {
	p, err := s.DB.GetPlaylist(context.Background(), name)
	if err != nil {
		return nil, err
	}
	if p.Owner != c.user && !p.Shared && !c.rights.HasAdmin() {
		return nil, fmt.Errorf("not shared")
	}
	return p, nil
}

func cmdPlaylistGet(s *Server, c *Conn, args []string) error {
	p, err := readablePlaylist(s, c, args[0])
	if err == trackdb.ErrNotFound {
		return errors.NewCommandError(CodeNotSet, "playlist-get", fmt.Errorf("no such playlist"))
	}
	if err != nil {
		return errors.NewCommandError(CodeNotAuthorized, "playlist-get", err)
	}
	c.WriteResponse(CodeBodyFollows, "playlist follows")
	c.WriteBody(p.Tracks)
	return nil
}

// writablePlaylist fetches name if it exists and c.user may overwrite it
// (owner or admin); a not-found playlist is writable by its would-be
// creator, so callers must still set Owner themselves.
func writablePlaylist(s *Server, c *Conn, name string) (*trackdb.Playlist, error) {
	p, err := s.DB.GetPlaylist(context.Background(), name)
	if err == trackdb.ErrNotFound {
		return &trackdb.Playlist{Name: name, Owner: c.user}, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Owner != c.user && !c.rights.HasAdmin() {
		return nil, fmt.Errorf("not owner")
	}
	return p, nil
}

func cmdPlaylistSet(s *Server, c *Conn, args []string) error {
	name := args[0]
	p, err := writablePlaylist(s, c, name)
	if err != nil {
		return errors.NewCommandError(CodeNotAuthorized, "playlist-set", err)
	}
	if holder, locked := s.Playlists.HolderOf(name); locked && holder != c.id {
		return errors.NewCommandError(550, "playlist-set", fmt.Errorf("playlist is locked"))
	}
	s.beginBody(c, func(lines []string) error {
		p.Tracks = lines
		return s.DB.PutPlaylist(context.Background(), p)
	})
	return nil
}

func cmdPlaylistLock(s *Server, c *Conn, args []string) error {
	name := args[0]
	if err := s.Playlists.Acquire(name, c.id); err != nil {
		switch err {
		case playlist.ErrAlreadyHolding:
			return errors.NewCommandError(550, "playlist-lock", fmt.Errorf("already holding a lock"))
		default:
			return errors.NewCommandError(550, "playlist-lock", fmt.Errorf("already locked"))
		}
	}
	c.playlistLock = name
	c.playlistLockedAt = time.Now()
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdPlaylistUnlock(s *Server, c *Conn, args []string) error {
	if c.playlistLock == "" {
		return errors.NewCommandError(550, "playlist-unlock", fmt.Errorf("no lock held"))
	}
	s.Playlists.Release(c.playlistLock, c.id)
	c.playlistLock = ""
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdPlaylistDelete(s *Server, c *Conn, args []string) error {
	name := args[0]
	p, err := s.DB.GetPlaylist(context.Background(), name)
	if err == trackdb.ErrNotFound {
		return errors.NewCommandError(CodeNotSet, "playlist-delete", fmt.Errorf("no such playlist"))
	}
	if err != nil {
		return errors.NewCommandError(550, "playlist-delete", err)
	}
	if p.Owner != c.user && !c.rights.HasAdmin() {
		return errors.NewCommandError(CodeNotAuthorized, "playlist-delete", fmt.Errorf("not owner"))
	}
	if err := s.DB.DeletePlaylist(context.Background(), name); err != nil {
		return errors.NewCommandError(550, "playlist-delete", err)
	}
	s.Playlists.Release(name, c.id)
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdPlaylistGetShare(s *Server, c *Conn, args []string) error {
	p, err := readablePlaylist(s, c, args[0])
	if err != nil {
		return errors.NewCommandError(550, "playlist-get-share", err)
	}
	c.WriteResponse(CodeSingleValue, boolWord(p.Shared))
	return nil
}

func cmdPlaylistSetShare(s *Server, c *Conn, args []string) error {
	p, err := writablePlaylist(s, c, args[0])
	if err != nil {
		return errors.NewCommandError(CodeNotAuthorized, "playlist-set-share", err)
	}
	p.Shared = args[1] == "yes" || args[1] == "true" || args[1] == "1"
	if err := s.DB.PutPlaylist(context.Background(), p); err != nil {
		return errors.NewCommandError(550, "playlist-set-share", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func boolWord(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
