package tui

import (
	"time"

	"golang.org/x/oauth2"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgSessionFound signals that a persisted session was loaded.
type MsgSessionFound struct{ DisplayName string }

// MsgSessionNotFound signals that there is no stored session (starting fresh).
type MsgSessionNotFound struct{}

// MsgRequestingCode signals that a short code is being requested.
type MsgRequestingCode struct{}

// MsgDeviceCodeReady signals that the short code is ready for user action.
type MsgDeviceCodeReady struct{ Auth *oauth2.DeviceAuthResponse }

// MsgWaitingForAuth signals that polling for completion has started.
type MsgWaitingForAuth struct{}

// MsgPollPending signals that the user has not finished yet.
type MsgPollPending struct{}

// MsgLoginSuccess signals that the login completed and the profile was loaded.
type MsgLoginSuccess struct {
	DisplayName string
	UserID      int64
}

// MsgAchievementsSynced signals that the achievement cache was refreshed.
type MsgAchievementsSynced struct{ Count int }

// MsgAchievementSyncFailed signals that the secondary achievement refresh failed.
type MsgAchievementSyncFailed struct{ Err error }

// MsgSessionSaved signals that the session was written to disk.
type MsgSessionSaved struct{ Path string }

// MsgLoggedOut signals that the session was cleared.
type MsgLoggedOut struct{ WasLoggedIn bool }

// MsgDone signals successful completion of the command.
type MsgDone struct {
	DisplayName string
	Scopes      []string
	ExpiresIn   time.Duration
}

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }
