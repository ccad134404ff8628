package senders

import (
	"strings"
	"testing"
	"time"

	"tenderwatch/internal/types"
)

func TestContractMatchRenderer(t *testing.T) {
	registry := NewRendererRegistry()
	renderer, ok := registry.Get(types.JobTypeContractMatch)
	if !ok {
		t.Fatal("contract match renderer not registered")
	}

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msg, err := renderer.Render(testMatchJob(), testUser(), testContract(), now)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if msg.Subject != "New contract opportunity: Road Resurfacing Phase II" {
		t.Errorf("unexpected subject: %q", msg.Subject)
	}
	for _, want := range []string{
		"Hello Dana Bidder",
		"Road Resurfacing Phase II",
		"Agency: Department of Transport",
		"Category: construction",
		"Estimated value: $2.4M",
		"Submission deadline: 15 March 2026",
	} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestContractMatchRenderer_SkipsEmptyOptionalFields(t *testing.T) {
	registry := NewRendererRegistry()
	renderer, _ := registry.Get(types.JobTypeContractMatch)

	contract := testContract()
	contract.Category = ""
	contract.EstimatedValue = ""
	contract.SubmissionDeadline = nil

	msg, err := renderer.Render(testMatchJob(), testUser(), contract, time.Now())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, absent := range []string{"Category:", "Estimated value:", "Submission deadline:"} {
		if strings.Contains(msg.Text, absent) {
			t.Errorf("body should omit %q:\n%s", absent, msg.Text)
		}
	}
}

func TestDeadlineReminderRenderer_DayPhrasing(t *testing.T) {
	registry := NewRendererRegistry()
	renderer, ok := registry.Get(types.JobTypeDeadlineReminder)
	if !ok {
		t.Fatal("deadline reminder renderer not registered")
	}

	deadline := time.Date(2026, 3, 15, 17, 0, 0, 0, time.UTC)
	contract := testContract()
	contract.SubmissionDeadline = &deadline

	cases := []struct {
		name string
		now  time.Time
		want string
	}{
		{"today", time.Date(2026, 3, 15, 17, 0, 0, 0, time.UTC), "is today"},
		{"tomorrow", time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC), "is tomorrow"},
		{"five days", time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC), "is in 5 days"},
		{"past deadline clamps to today", time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), "is today"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := renderer.Render(testMatchJob(), testUser(), contract, tc.now)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if !strings.Contains(msg.Text, tc.want) {
				t.Errorf("body missing %q:\n%s", tc.want, msg.Text)
			}
		})
	}
}

func TestDeadlineReminderRenderer_RequiresDeadline(t *testing.T) {
	registry := NewRendererRegistry()
	renderer, _ := registry.Get(types.JobTypeDeadlineReminder)

	contract := testContract()
	contract.SubmissionDeadline = nil

	if _, err := renderer.Render(testMatchJob(), testUser(), contract, time.Now()); err == nil {
		t.Fatal("expected error for contract without deadline")
	}
}

func TestDisplayName_FallsBackWhenEmpty(t *testing.T) {
	user := &types.UserProfile{Email: "bidder@example.com"}
	if got := displayName(user); got != "there" {
		t.Errorf("expected fallback greeting, got %q", got)
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	registry := NewRendererRegistry()

	custom := contractMatchRenderer{}
	registry.Register(types.JobTypeDeadlineReminder, custom)

	renderer, ok := registry.Get(types.JobTypeDeadlineReminder)
	if !ok {
		t.Fatal("renderer missing after Register")
	}
	if _, isCustom := renderer.(contractMatchRenderer); !isCustom {
		t.Error("Register did not replace the renderer")
	}
}
