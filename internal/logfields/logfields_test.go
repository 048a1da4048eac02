package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"UserID", KeyUserID, "u1", UserID("u1")},
		{"ChannelID", KeyChannelID, "c1", ChannelID("c1")},
		{"State", KeyState, "MainMenu", State("MainMenu")},
		{"NextState", KeyNextState, "End", NextState("End")},
		{"Recipient", KeyRecipient, "chat-9", Recipient("chat-9")},
		{"DigestKind", KeyDigestKind, "next_day", DigestKind("next_day")},
		{"RunID", KeyRunID, "r1", RunID("r1")},
		{"Path", KeyPath, "/tmp/x.yaml", Path("/tmp/x.yaml")},
		{"Error", KeyError, "boom", Error(errors.New("boom"))},
		{"NilError", KeyError, "", Error(nil)},
	}
	for _, c := range cases {
		if c.attr.Key != c.attrKey {
			t.Errorf("%s: expected key %q, got %q", c.name, c.attrKey, c.attr.Key)
		}
		if c.attr.Value.String() != c.attrVal {
			t.Errorf("%s: expected value %q, got %q", c.name, c.attrVal, c.attr.Value.String())
		}
	}
}
