package phone

import "testing"

func TestFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"2", "2"},
		{"21", "21"},
		{"219", "(21) 9"},
		{"2199999", "(21) 99999"},
		{"21999998", "(21) 99999-8"},
		{"21999998888", "(21) 99999-8888"},
		{"2199999888877", "(21) 99999-8888"},
		{"(21) 9999-9888", "(21) 99999-888"},
		{"abc", ""},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValid(t *testing.T) {
	tests := map[string]bool{
		"(21) 9999-9999":  true,
		"(21) 99999-9999": true,
		"219999999":       false,
		"":                false,
		"219999999999":    false,
	}
	for in, want := range tests {
		if got := Valid(in); got != want {
			t.Errorf("Valid(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPress(t *testing.T) {
	value := ""
	for _, d := range "21987654321999" {
		value = Press(value, string(d))
	}
	if value != "(21) 98765-4321" {
		t.Errorf("Press sequence = %q, want (21) 98765-4321", value)
	}

	if got := Press("(21) 9", "x"); got != "(21) 9" {
		t.Errorf("Press non-digit = %q, want unchanged", got)
	}
}

func TestBackspace(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"(21) 98765-4321", "(21) 98765-432"},
		{"(21) 98765-4", "(21) 98765"},
		{"(21) 9", "21"},
		{"2", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Backspace(tt.in); got != tt.want {
			t.Errorf("Backspace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
