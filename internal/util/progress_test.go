package util

import "testing"

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{99 * 1024, "99.0 KiB"},
		{1 << 30, " 1.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTransferBarNilSafe(t *testing.T) {
	var bar *TransferBar
	bar.Add(10)
	bar.Finish()

	if bar := NewTransferBar("empty", 0); bar != nil {
		t.Error("zero-total bar should be nil")
	}
}
