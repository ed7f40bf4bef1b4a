package chatlog

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseFile(t *testing.T) {
	conv, err := ParseFile("testdata/sample.jsonl")
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}

	if conv.Title != "Test conversation" {
		t.Errorf("Title = %v, want 'Test conversation'", conv.Title)
	}
	if conv.ConversationID != "3b9f0c2e-8d41-4a8e-9a57-1f2d3c4b5a69" {
		t.Errorf("ConversationID = %v", conv.ConversationID)
	}

	// Blank and unknown lines are skipped
	if len(conv.Messages) != 2 {
		t.Fatalf("Message count = %v, want 2", len(conv.Messages))
	}
	if conv.Messages[0].IsAutomated() || !conv.Messages[1].IsAutomated() {
		t.Errorf("Senders = %v, %v", conv.Messages[0].Sender, conv.Messages[1].Sender)
	}
	want := time.Date(2025, 1, 15, 9, 30, 7, 250_000_000, time.UTC)
	if !conv.Messages[1].Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", conv.Messages[1].Timestamp, want)
	}
	if conv.FileSize == 0 || conv.FilePath == "" {
		t.Error("File metadata not recorded")
	}
}

func TestParseFile_InvalidPath(t *testing.T) {
	_, err := ParseFile("nonexistent.jsonl")
	if err == nil {
		t.Error("ParseFile() should return error for invalid path")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"BrokenJSON", `{"type":"message"`},
		{"MissingSender", `{"type":"message","id":"m1","content":"hi"}`},
		{"UnknownSender", `{"type":"message","id":"m1","sender":"robot","content":"hi"}`},
		{"BadTimestamp", `{"type":"message","id":"m1","sender":"user","content":"hi","timestamp":"yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.input)); err == nil {
				t.Errorf("Parse(%s) should fail", tt.input)
			}
		})
	}
}

func TestParse_LegacyHumanSender(t *testing.T) {
	conv, err := Parse(strings.NewReader(`{"type":"message","id":"m1","sender":"human","content":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if conv.Messages[0].Sender != SenderUser {
		t.Errorf("Sender = %v, want %v", conv.Messages[0].Sender, SenderUser)
	}
}

func TestWriteThenParse(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []ParsedMessage{
		{ID: "m1", Sender: SenderUser, Content: "line one\nline <two>", Timestamp: created.Add(time.Second)},
		{ID: "m2", Sender: SenderAssistant, Content: "ok", Timestamp: created.Add(2 * time.Second)},
	}

	var buf bytes.Buffer
	if err := Write(&buf, Header{ConversationID: "c1", Title: "Notes", CreatedAt: created}, msgs); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "<two>") {
		t.Error("HTML characters should not be escaped")
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Errorf("Wrote %d lines, want 3", lines)
	}

	conv, err := Parse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Title != "Notes" || !conv.CreatedAt.Equal(created) {
		t.Errorf("Header = %q %v", conv.Title, conv.CreatedAt)
	}
	if len(conv.Messages) != 2 || conv.Messages[0].Content != msgs[0].Content {
		t.Errorf("Messages = %+v", conv.Messages)
	}
}
