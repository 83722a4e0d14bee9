package notify

import (
	"context"
	"testing"
)

func TestNewSendGridSenderNilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "desk@novadental.example",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSenderDefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "desk@novadental.example",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "NovaDental" {
		t.Errorf("expected default from name %q, got %q", "NovaDental", sender.fromName)
	}
}

func TestStubEmailSenderNeverFails(t *testing.T) {
	stub := NewStubEmailSender(nil)
	err := stub.Send(context.Background(), EmailMessage{
		To:      "patient@example.com",
		Subject: "Your appointment is booked",
		Body:    "hi",
	})
	if err != nil {
		t.Fatalf("stub send returned error: %v", err)
	}
}
