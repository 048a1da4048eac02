// Package logfields holds canonical slog attribute keys shared across packages.
package logfields

import "log/slog"

const (
	KeyUserID     = "user_id"
	KeyChannelID  = "channel_id"
	KeyState      = "state"
	KeyNextState  = "next_state"
	KeyRecipient  = "recipient"
	KeyDigestKind = "digest_kind"
	KeyRunID      = "run_id"
	KeyPath       = "path"
	KeyError      = "error"
)

func UserID(id string) slog.Attr      { return slog.String(KeyUserID, id) }
func ChannelID(id string) slog.Attr   { return slog.String(KeyChannelID, id) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func NextState(s string) slog.Attr    { return slog.String(KeyNextState, s) }
func Recipient(r string) slog.Attr    { return slog.String(KeyRecipient, r) }
func DigestKind(k string) slog.Attr   { return slog.String(KeyDigestKind, k) }
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
