package postgres

import "testing"

func TestNewTableNames(t *testing.T) {
	tests := []struct {
		prefix       string
		wantThreads  string
		wantMessages string
		wantFeedback string
	}{
		{"dev_", "dev_threads", "dev_messages", "dev_message_feedback"},
		{"test_", "test_threads", "test_messages", "test_message_feedback"},
		{"", "threads", "messages", "message_feedback"},
	}

	for _, tt := range tests {
		tables := NewTableNames(tt.prefix)
		if tables.Threads != tt.wantThreads {
			t.Errorf("prefix %q: Threads = %q, want %q", tt.prefix, tables.Threads, tt.wantThreads)
		}
		if tables.Messages != tt.wantMessages {
			t.Errorf("prefix %q: Messages = %q, want %q", tt.prefix, tables.Messages, tt.wantMessages)
		}
		if tables.Feedback != tt.wantFeedback {
			t.Errorf("prefix %q: Feedback = %q, want %q", tt.prefix, tables.Feedback, tt.wantFeedback)
		}
	}
}
