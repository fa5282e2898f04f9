package classify

import "testing"

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"network unreachable", "dial tcp: Network is unreachable", true},
		{"connection refused", "send to ana@example.com failed: Connection refused", true},
		{"connection timed out", "Connection timed out", true},
		{"dns unknown service", "lookup smtp.example.com: Name or service not known", true},
		{"dns temporary failure", "Temporary failure in name resolution", true},
		{"no route", "connect: No route to host", true},
		{"connection reset", "read: Connection reset by peer", true},
		{"auth failure", "535 5.7.8 Username and Password not accepted", false},
		{"bad address", "Invalid email address", false},
		{"server error", "451 4.3.0 Internal server error", false},
		{"empty message", "", false},
		{"case sensitive", "connection refused", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.message); got != tt.want {
				t.Errorf("IsTransient(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestIsTransientDeterministic(t *testing.T) {
	msg := "send failed: Connection refused"
	first := IsTransient(msg)
	for i := 0; i < 100; i++ {
		if IsTransient(msg) != first {
			t.Fatal("classification changed between identical calls")
		}
	}
}
