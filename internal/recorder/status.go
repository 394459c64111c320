// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"time"

	"github.com/ManuGH/rootcap/internal/native"
)

const statusStderrLines = 20

// Status is a point-in-time view of the recorder for the API.
type Status struct {
	State       string       `json:"state"`
	Session     *SessionView `json:"session,omitempty"`
	LastSession *SessionView `json:"lastSession,omitempty"`
	Error       *ErrorView   `json:"error,omitempty"`
	ExecBlocked bool         `json:"execBlocked"`
	SuVersion   string       `json:"suVersion,omitempty"`
	Stderr      []string     `json:"stderr,omitempty"`

	// PendingCommand is the correlated command still awaiting its result.
	PendingCommand *CommandView `json:"pendingCommand,omitempty"`
}

// SessionView is the JSON form of a native.Session.
type SessionView struct {
	ID         string     `json:"id"`
	Path       string     `json:"path"`
	DevicePath string     `json:"devicePath"`
	Rotation   int        `json:"rotation"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	FPS        *float64   `json:"fps,omitempty"`
	Final      bool       `json:"final"`
	ExitCode   int        `json:"exitCode,omitempty"`
}

// ErrorView is the JSON form of a native.ErrorInfo.
type ErrorView struct {
	Code         int    `json:"code"`
	Category     string `json:"category"`
	Phase        string `json:"phase"`
	MediaService bool   `json:"mediaService"`
}

// Status reports the current supervisor state without waiting on running
// operations.
func (c *Controller) Status() Status {
	st := Status{State: native.StateNew.String()}

	if sup := c.current(); sup != nil {
		st.State = sup.State().String()
		if sess, ok := sup.Session(); ok {
			st.Session = newSessionView(sess)
		}
		if info, ok := sup.Err(); ok {
			st.Error = newErrorView(info)
		}
		st.ExecBlocked = sup.ExecBlocked()
		st.SuVersion = sup.SuVersion()
		st.Stderr = sup.StderrTail(statusStderrLines)
		if req, ok := sup.Commands().Pending(); ok {
			st.PendingCommand = newCommandView(req)
		}
	}

	c.lastMu.Lock()
	if c.lastSession != nil {
		st.LastSession = newSessionView(*c.lastSession)
	}
	if st.Error == nil && c.lastErr != nil {
		st.Error = newErrorView(*c.lastErr)
	}
	c.lastMu.Unlock()
	return st
}

func newSessionView(s native.Session) *SessionView {
	v := &SessionView{
		ID:         s.ID,
		Path:       s.Path,
		DevicePath: s.DevicePath,
		Rotation:   s.Rotation,
		StartedAt:  s.StartedAt,
		Final:      s.Final,
	}
	if !s.FinishedAt.IsZero() {
		t := s.FinishedAt
		v.FinishedAt = &t
	}
	if s.FPS > 0 {
		fps := s.FPS
		v.FPS = &fps
	}
	if s.HasError {
		v.ExitCode = s.ExitCode
	}
	return v
}

func newErrorView(e native.ErrorInfo) *ErrorView {
	return &ErrorView{
		Code:         e.Code,
		Category:     e.Category().String(),
		Phase:        e.Phase.String(),
		MediaService: e.MediaService,
	}
}
