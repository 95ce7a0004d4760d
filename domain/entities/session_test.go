package entities

import (
	"testing"
	"time"
)

func TestSessionCreation(t *testing.T) {
	prefs := Preferences{ChatProvider: "gemini", Language: "ja-JP"}
	session := NewSession("session-123", prefs)

	if session.ID != "session-123" {
		t.Errorf("Expected ID %s, got %s", "session-123", session.ID)
	}

	if session.Status != SessionStatusActive {
		t.Errorf("Expected status %s, got %s", SessionStatusActive, session.Status)
	}

	if session.Preferences != prefs {
		t.Errorf("Expected preferences %+v, got %+v", prefs, session.Preferences)
	}

	if session.ExpiresAt.Sub(session.CreatedAt) != DefaultSessionTTL {
		t.Errorf("Expected expiration %s after creation, got %s", DefaultSessionTTL, session.ExpiresAt.Sub(session.CreatedAt))
	}
}

func TestSessionExpiration(t *testing.T) {
	session := NewSession("session-1", Preferences{})

	if session.IsExpired() {
		t.Error("Session should not be expired initially")
	}

	session.ExpiresAt = time.Now().Add(-1 * time.Hour)
	if !session.IsExpired() {
		t.Error("Session should be expired when ExpiresAt is in the past")
	}

	session.ExpiresAt = time.Now().Add(1 * time.Hour)
	session.Terminate()
	if !session.IsExpired() {
		t.Error("Session should be expired when status is terminated")
	}
}

func TestSessionValidation(t *testing.T) {
	session := NewSession("session-1", Preferences{})
	if err := session.Validate(); err != nil {
		t.Errorf("Valid session should not have validation errors, got: %v", err)
	}

	session.ID = ""
	if err := session.Validate(); err == nil {
		t.Error("Session with empty ID should have validation error")
	}

	session.ID = "session-1"
	session.Status = SessionStatus("invalid")
	if err := session.Validate(); err == nil {
		t.Error("Session with invalid status should have validation error")
	}
}

func TestUpdateLastActive(t *testing.T) {
	session := NewSession("session-1", Preferences{})
	originalLastActive := session.LastActiveAt
	originalExpiresAt := session.ExpiresAt

	time.Sleep(10 * time.Millisecond)

	session.UpdateLastActive()

	if !session.LastActiveAt.After(originalLastActive) {
		t.Error("LastActiveAt should be updated to a later time")
	}

	if !session.ExpiresAt.After(originalExpiresAt) {
		t.Error("ExpiresAt should be extended")
	}

	expectedExpiration := session.LastActiveAt.Add(DefaultSessionTTL)
	if session.ExpiresAt.Sub(expectedExpiration).Abs() > time.Second {
		t.Error("ExpiresAt should be 24 hours from LastActiveAt")
	}
}

func TestLiveSettingsEqual(t *testing.T) {
	base := Preferences{LiveEnabled: true, LiveProvider: "gemini", LiveVoice: "Kore"}

	same := base
	same.ChatProvider = "openai"
	if !base.LiveSettingsEqual(same) {
		t.Error("Chat provider change should not affect live settings")
	}

	changed := base
	changed.LiveVoice = "Puck"
	if base.LiveSettingsEqual(changed) {
		t.Error("Voice change should affect live settings")
	}
}

func TestChannelNo(t *testing.T) {
	for i, c := range AllChannels {
		if !c.Valid() {
			t.Errorf("Expected channel %d to be valid", c)
		}
		if c.Index() != i {
			t.Errorf("Expected index %d for channel %d, got %d", i, c, c.Index())
		}
	}

	if ChannelNo(5).Valid() || ChannelNo(-3).Valid() {
		t.Error("Channels outside -2..4 should be invalid")
	}

	if !ChannelAgent3.IsAgent() || ChannelChat.IsAgent() {
		t.Error("Only channels 1..4 are agent channels")
	}

	if ChannelControl.IsOutput() || !ChannelChat.IsOutput() {
		t.Error("Only channels 0..4 are output channels")
	}

	if ChannelAgent2.String() != "agent2" {
		t.Errorf("Expected agent2, got %s", ChannelAgent2.String())
	}
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    ChannelNo
		wantErr bool
	}{
		{"-2", ChannelVoice, false},
		{"-1", ChannelControl, false},
		{"0", ChannelChat, false},
		{"4", ChannelAgent4, false},
		{"5", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseChannel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseChannel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseChannel(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
