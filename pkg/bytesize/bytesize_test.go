package bytesize

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Size
		wantErr bool
	}{
		{"64MB", 64 * MB, false},
		{"1.5GB", Size(1.5 * float64(GB)), false},
		{"500 KB", 500 * KB, false},
		{"1024", 1024, false},
		{"0", 0, false},
		{"2TiB", 2 * TB, false},
		{"5mb", 5 * MB, false},
		{"", 0, true},
		{"abc", 0, true},
		{"5XB", 0, true},
		{"-5MB", 0, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input Size
		want  string
	}{
		{0, "0B"},
		{512, "512B"},
		{KB, "1KB"},
		{64 * MB, "64MB"},
		{Size(1.5 * float64(GB)), "1.5GB"},
		{-5 * MB, "-5MB"},
	}

	for _, tt := range tests {
		if got := Format(tt.input); got != tt.want {
			t.Errorf("Format(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, size := range []Size{KB, 64 * MB, 3 * GB, TB} {
		parsed, err := Parse(Format(size))
		if err != nil {
			t.Fatalf("round trip parse failed for %d: %v", size, err)
		}
		if parsed != size {
			t.Errorf("round trip mismatch: %d -> %q -> %d", size, Format(size), parsed)
		}
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParse should panic on invalid input")
		}
	}()
	MustParse("not a size")
}
