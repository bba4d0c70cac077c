package utils

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"+7 (911) 777-22-00", "79117772200"},
		{"79117772200", "79117772200"},
		{"  7-911-777-22-00  ", "79117772200"},
		{"+7(911)7772200", "79117772200"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizePhone(tt.input)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestValidDestination(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"79117772200", true},
		{"7911777220012345", false}, // 16 digits, too long
		{"791177722001234", true},   // 15 digits
		{"7911777220", false},       // 10 digits, too short
		{"89117772200", false},      // wrong country code
		{"7911777a200", false},      // non-digit
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ValidDestination(tt.input)
			if result != tt.expected {
				t.Errorf("expected %t, got %t", tt.expected, result)
			}
		})
	}
}
