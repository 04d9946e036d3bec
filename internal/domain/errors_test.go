package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/text/language"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{429, KindRateLimited},
		{500, KindServerError},
		{503, KindServerError},
		{400, KindValidation},
		{401, KindAuth},
		{403, KindAuth},
		{402, KindAuth},
		{0, KindNetwork},
		{418, KindUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); got != tt.want {
			t.Fatalf("ClassifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestTransientKinds(t *testing.T) {
	for _, k := range []ErrorKind{KindRateLimited, KindServerError, KindNetwork} {
		if !k.Transient() {
			t.Fatalf("expected %s to be transient", k)
		}
	}
	for _, k := range []ErrorKind{KindValidation, KindAuth, KindAdminLimitExceeded, KindUnknown} {
		if k.Transient() {
			t.Fatalf("expected %s to be fatal", k)
		}
	}
}

func TestAsProviderErrorWrapsTransportFailures(t *testing.T) {
	pe := AsProviderError(fmt.Errorf("dial: %w", errors.New("connection refused")))
	if pe.Kind != KindNetwork {
		t.Fatalf("expected network kind, got %s", pe.Kind)
	}

	orig := NewProviderError(429, "429", "slow down", nil)
	wrapped := fmt.Errorf("get status: %w", orig)
	if got := AsProviderError(wrapped); got != orig {
		t.Fatalf("expected original provider error to be returned")
	}
	if !errors.Is(orig, ErrProviderFailure) {
		t.Fatalf("provider error without cause should unwrap to ErrProviderFailure")
	}
}

func TestParseJobState(t *testing.T) {
	tests := map[string]JobState{
		"waiting":    JobStateWaiting,
		"QUEUING":    JobStateQueuing,
		"generating": JobStateGenerating,
		"success":    JobStateSuccess,
		"fail":       JobStateFailed,
		"failed":     JobStateFailed,
		"upscaling":  JobState("upscaling"),
	}
	for raw, want := range tests {
		got := ParseJobState(raw)
		if got != want {
			t.Fatalf("ParseJobState(%q) = %q, want %q", raw, got, want)
		}
	}
	if JobState("upscaling").IsTerminal() {
		t.Fatalf("unknown states must not be terminal")
	}
	if !JobStateFailed.IsTerminal() || !JobStateSuccess.IsTerminal() {
		t.Fatalf("success and failed must be terminal")
	}
}

func TestUserMessage(t *testing.T) {
	msg := UserMessage(language.English, KindInsufficientFunds, MessageArgs{Need: 30, Have: 10})
	if !strings.Contains(msg, "need 30, have 10") {
		t.Fatalf("unexpected insufficient funds message: %q", msg)
	}

	for _, k := range []ErrorKind{KindRateLimited, KindServerError, KindNetwork} {
		if !strings.Contains(UserMessage(language.English, k, MessageArgs{}), "Try again shortly") {
			t.Fatalf("transient kind %s should ask to try again shortly", k)
		}
	}

	if msg := UserMessage(language.English, KindValidation, MessageArgs{}); !strings.Contains(msg, "Adjust the settings") {
		t.Fatalf("validation message should ask for a parameter fix: %q", msg)
	}

	id := UserMessage(language.Indonesian, KindInsufficientFunds, MessageArgs{Need: 30, Have: 10})
	if !strings.Contains(id, "butuh 30, tersedia 10") {
		t.Fatalf("unexpected indonesian message: %q", id)
	}
}

func TestDuplicateMessageWithoutJobID(t *testing.T) {
	withID := UserMessage(language.English, KindDuplicate, MessageArgs{ExistingJobID: "task-7"})
	if !strings.Contains(withID, "(job task-7)") {
		t.Fatalf("expected job id in message: %q", withID)
	}

	for _, tag := range []language.Tag{language.English, language.Indonesian} {
		msg := UserMessage(tag, KindDuplicate, MessageArgs{})
		if strings.Contains(msg, "job ") || strings.Contains(msg, "%") {
			t.Fatalf("message without a job id must not reference one: %q", msg)
		}
	}
	if msg := UserMessage(language.Indonesian, KindDuplicate, MessageArgs{}); !strings.Contains(msg, "percakapan") {
		t.Fatalf("unexpected indonesian message: %q", msg)
	}
}

func TestMatchLocale(t *testing.T) {
	if got := MatchLocale("id-ID,en;q=0.8"); got != language.Indonesian {
		t.Fatalf("expected indonesian, got %s", got)
	}
	if got := MatchLocale(""); got != language.English {
		t.Fatalf("expected english fallback, got %s", got)
	}
}
