package api

import (
	"context"
	"fmt"

	"github.com/hazyhaar/seqbrowse/kit"
	"github.com/hazyhaar/seqbrowse/session"
)

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type selectRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	Op         string `json:"op"`
	Delta      int    `json:"delta,omitempty"`
	Position   int    `json:"position,omitempty"`
	IndexValue string `json:"index_value,omitempty"`
	Exact      bool   `json:"exact,omitempty"`
}

type playbackRequest struct {
	SessionID string `json:"session_id,omitempty"`
	session.PlaybackUpdate
}

type tickResponse struct {
	Moved bool         `json:"moved"`
	View  session.View `json:"view"`
}

// session resolves the session named in the call context.
func (a *API) session(ctx context.Context) (*session.Session, error) {
	id := kit.GetSessionID(ctx)
	if id == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrBadRequest)
	}
	return a.mgr.Get(ctx, id)
}

func (a *API) stateEndpoint(ctx context.Context, _ any) (any, error) {
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.View()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (a *API) selectEndpoint(ctx context.Context, req any) (any, error) {
	r, _ := req.(selectRequest)
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	var v session.View
	switch r.Op {
	case "first":
		v, err = s.SelectFirst()
	case "last":
		v, err = s.SelectLast()
	case "next":
		v, err = s.SelectNext()
	case "previous", "prev":
		v, err = s.SelectPrevious()
	case "relative":
		v, err = s.SelectRelative(r.Delta)
	case "explicit":
		v, err = s.SelectExplicit(r.Position)
	case "seek":
		v, err = s.Seek(r.IndexValue, r.Exact)
	default:
		return nil, fmt.Errorf("%w: unknown select op %q", ErrBadRequest, r.Op)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (a *API) playbackEndpoint(ctx context.Context, req any) (any, error) {
	r, _ := req.(playbackRequest)
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.UpdatePlayback(r.PlaybackUpdate)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (a *API) tickEndpoint(ctx context.Context, _ any) (any, error) {
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	moved, err := s.Tick()
	if err != nil {
		return nil, err
	}
	v, err := s.View()
	if err != nil {
		return nil, err
	}
	return tickResponse{Moved: moved, View: v}, nil
}

func (a *API) mirrorEndpoint(ctx context.Context, _ any) (any, error) {
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.Mirror()
	if err != nil {
		return nil, err
	}
	return entries, nil
}
