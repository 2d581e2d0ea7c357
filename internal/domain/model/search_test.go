package model

import "testing"

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		input    string
		wantCode string
		wantErr  bool
	}{
		{"KMP", "KMP", false},
		{"Rabin-Karp", "RK", false},
		{"Aho-Corasick", "AC", false},
		{" KMP ", "KMP", false},
		{"kmp", "", true},
		{"RK", "", true},
		{"Boyer-Moore", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			alg, err := ParseAlgorithm(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAlgorithm(%q): ожидалась ошибка", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAlgorithm(%q): неожиданная ошибка: %v", tt.input, err)
			}
			if alg.EngineCode() != tt.wantCode {
				t.Errorf("EngineCode() = %q, ожидалось %q", alg.EngineCode(), tt.wantCode)
			}
		})
	}
}
