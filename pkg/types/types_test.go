package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// Functional Validation Tests - Session

func TestSession_Validate(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		wantErr error
	}{
		{
			name:    "valid session",
			session: Session{ID: "session1", Name: "Biology", TeacherID: "teacher_1", Status: StatusActive},
			wantErr: nil,
		},
		{
			name:    "empty id",
			session: Session{ID: "", Name: "Biology", TeacherID: "teacher_1", Status: StatusActive},
			wantErr: ErrInvalidSessionID,
		},
		{
			name:    "name too long",
			session: Session{ID: "session1", Name: strings.Repeat("a", 201), TeacherID: "teacher_1", Status: StatusActive},
			wantErr: ErrInvalidSessionName,
		},
		{
			name:    "invalid teacher",
			session: Session{ID: "session1", Name: "Biology", TeacherID: "teacher 1", Status: StatusActive},
			wantErr: ErrInvalidUserID,
		},
		{
			name:    "unknown status",
			session: Session{ID: "session1", Name: "Biology", TeacherID: "teacher_1", Status: "archived"},
			wantErr: ErrInvalidStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.session.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	deadline := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	original := &Session{ID: "s1", Status: StatusPaused, GracePeriodEndsAt: &deadline}

	clone := original.Clone()
	*clone.GracePeriodEndsAt = deadline.Add(time.Hour)

	if !original.GracePeriodEndsAt.Equal(deadline) {
		t.Errorf("mutating clone changed original deadline to %v", original.GracePeriodEndsAt)
	}

	var nilSession *Session
	if nilSession.Clone() != nil {
		t.Error("Clone of nil session should be nil")
	}
}

func TestSessionStatus_HasGracePeriod(t *testing.T) {
	cases := map[SessionStatus]bool{
		StatusActive: false,
		StatusPaused: true,
		StatusEnded:  true,
	}
	for status, want := range cases {
		if got := status.HasGracePeriod(); got != want {
			t.Errorf("%s.HasGracePeriod() = %v, want %v", status, got, want)
		}
	}
}

func TestCollaborationPair_PartnerOf(t *testing.T) {
	pair := &CollaborationPair{
		Participants: [2]Member{{ID: "A", Name: "Alice"}, {ID: "B", Name: "Bob"}},
		InitiatorID:  "A",
	}

	partner, ok := pair.PartnerOf("A")
	if !ok || partner.Name != "Bob" {
		t.Errorf("PartnerOf(A) = %+v, %v; want Bob", partner, ok)
	}
	partner, ok = pair.PartnerOf("B")
	if !ok || partner.Name != "Alice" {
		t.Errorf("PartnerOf(B) = %+v, %v; want Alice", partner, ok)
	}
	if pair.Includes("C") {
		t.Error("pair should not include C")
	}
}

func TestScope_KeysAreDistinct(t *testing.T) {
	keys := map[string]bool{}
	for _, scope := range []Scope{
		SessionScope("s1"),
		PersonalScope("s1"),
		WaitingRoomScope("s1", "t1"),
		WaitingRoomScope("s1", "t2"),
	} {
		if keys[scope.Key()] {
			t.Errorf("duplicate scope key %q", scope.Key())
		}
		keys[scope.Key()] = true
	}
}

func TestSessionStatusPayload_WireNames(t *testing.T) {
	payload := SessionStatusPayload{SessionID: "s1", Status: StatusActive}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	// An active session must publish an explicit null deadline
	if !strings.Contains(string(data), `"gracePeriodEndsAt":null`) {
		t.Errorf("expected explicit null deadline, got %s", data)
	}
}

func TestIdentifierValidation(t *testing.T) {
	tests := []struct {
		name  string
		check func(string) bool
		input string
		want  bool
	}{
		{"user ok", IsValidUserID, "student_1", true},
		{"user too long", IsValidUserID, strings.Repeat("a", 51), false},
		{"user with space", IsValidUserID, "a b", false},
		{"session uuid", IsValidSessionID, "1b4e28ba-2fa1-11d2-883f-0016d3cca427", true},
		{"topic slug", IsValidTopicID, "photosynthesis", true},
		{"topic empty", IsValidTopicID, "", false},
		{"role teacher", IsValidRole, RoleTeacher, true},
		{"role instructor", IsValidRole, "instructor", false},
		{"name blank", IsValidStudentName, "   ", false},
		{"name ok", IsValidStudentName, "Alice", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.input); got != tt.want {
				t.Errorf("got %v, want %v for %q", got, tt.want, tt.input)
			}
		})
	}
}
