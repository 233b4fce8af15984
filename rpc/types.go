// Package rpc defines JSON-RPC 2.0 wire format types for WebSocket communication.
// These types represent the params and result structures for all RPC methods.
package rpc

import (
	"github.com/joules/server/meeting"
	"github.com/joules/server/session"
)

// Client → Server

type AuthParams struct {
	Token string `json:"token"`
}

type AuthResult struct {
	Version string        `json:"version"`
	Session session.State `json:"session"`
}

// SelectFileParams carries a picked audio file. Data is base64 in JSON. An
// empty Data resets the session.
type SelectFileParams struct {
	FileName  string `json:"file_name"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

type CommitParams struct {
	Name string `json:"name"`
}

type CommitResult struct {
	Meeting meeting.Meeting `json:"meeting"`
	Session session.State   `json:"session"`
}

type MeetingParams struct {
	MeetingID string `json:"meeting_id"`
}

type MeetingListResult struct {
	Meetings []meeting.Meeting `json:"meetings"`
}

type MeetingListSubscribeResult struct {
	ID       string            `json:"id"`
	Meetings []meeting.Meeting `json:"meetings"`
}

type MeetingListUnsubscribeParams struct {
	ID string `json:"id"`
}

// Server → Client

// SessionChangedParams is sent as "session.changed" after every session
// state change on the connection.
type SessionChangedParams struct {
	Session session.State `json:"session"`
}
