package api

import "errors"

// Business failures the battle flow branches on.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyInRoom = errors.New("already in room")
)

// Error is a rejected REST call. Message is the server's text and is
// shown to the user verbatim when present.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "request failed"
}

// Is maps well-known server error codes onto the sentinel errors so
// callers can use errors.Is without losing the server message.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRoomNotFound:
		return e.Code == "room_not_found"
	case ErrRoomFull:
		return e.Code == "room_full"
	case ErrAlreadyInRoom:
		return e.Code == "already_in_room"
	}
	return false
}

// UserMessage extracts an alert-ready message from any error returned
// by this package, falling back to a generic one.
func UserMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "Something went wrong. Please try again."
}
