package downloader

import (
	"testing"
)

func TestCalculateParts_RemainderGoesToEarliestChunks(t *testing.T) {
	parts := CalculateParts(10, 3)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	want := [][2]int64{{0, 3}, {4, 6}, {7, 9}}
	for i, w := range want {
		if parts[i].Start != w[0] || parts[i].End != w[1] {
			t.Errorf("part %d = (%d,%d), want (%d,%d)", i, parts[i].Start, parts[i].End, w[0], w[1])
		}
	}
}

func TestCalculateParts_Contiguous(t *testing.T) {
	tests := []struct {
		name     string
		total    int64
		numParts int
	}{
		{"even_split", 100 * 1024 * 1024, 8},
		{"odd_remainder", 777, 5},
		{"single_byte_per_part", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := CalculateParts(tt.total, tt.numParts)
			var sum int64
			var prevEnd int64 = -1
			for i, p := range parts {
				if p.Start != prevEnd+1 {
					t.Errorf("part %d starts at %d, want %d", i, p.Start, prevEnd+1)
				}
				sum += p.End - p.Start + 1
				prevEnd = p.End
			}
			if sum != tt.total {
				t.Errorf("parts sum to %d bytes, want %d", sum, tt.total)
			}
		})
	}
}

func TestCalculateParts_ZeroFileSize(t *testing.T) {
	if parts := CalculateParts(0, 4); len(parts) != 0 {
		t.Errorf("expected no parts for zero size, got %d", len(parts))
	}
}

func TestCalculateParts_HonorsNumPartsExactlyEvenBelowMinPartSize(t *testing.T) {
	// CalculateParts must not apply the MinPartSize floor itself: a caller
	// that asks for 8 parts of a 500 KiB file (under 1 MiB in total) still
	// gets 8 parts.
	parts := CalculateParts(500*1024, 8)
	if len(parts) != 8 {
		t.Errorf("expected CalculateParts to honor numParts=8 regardless of MinPartSize, got %d parts", len(parts))
	}
}

func TestPartsForSize_SmallFileReducesPartCount(t *testing.T) {
	if got := PartsForSize(500*1024, 8); got != 1 {
		t.Errorf("expected small file to collapse to 1 part, got %d", got)
	}
}

func TestPartsForSize_MediumFileLimitsThreads(t *testing.T) {
	if got := PartsForSize(5*1024*1024, 8); got != 5 {
		t.Errorf("expected 5MB file with 1MB min part size to yield 5 parts, got %d", got)
	}
}

func TestPartsForSize_ExcessiveThreadsCapped(t *testing.T) {
	if got := PartsForSize(1000*1024*1024, 64); got != MaxParts {
		t.Errorf("expected part count capped at %d, got %d", MaxParts, got)
	}
}

func TestCalculateParts_ExcessiveThreadsCapped(t *testing.T) {
	parts := CalculateParts(1000*1024*1024, 64)
	if len(parts) != MaxParts {
		t.Errorf("expected part count capped at %d, got %d", MaxParts, len(parts))
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"slash", "a/b.bin", "a_b.bin"},
		{"backslash", `a\b.bin`, "a_b.bin"},
		{"reserved_chars", `a:b*c?d"e<f>g|h`, "a_b_c_d_e_f_g_h"},
		{"leading_dots_trimmed", "...hidden", "hidden"},
		{"whitespace_trimmed", "  name.txt  ", "name.txt"},
		{"empty_falls_back", "", "unnamed_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilenameFromContentDisposition(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{
			"quoted_filename",
			`attachment; filename="a/b.bin"`,
			"a/b.bin",
		},
		{
			"star_utf8_filename",
			`attachment; filename*=UTF-8''caf%C3%A9.txt`,
			"café.txt",
		},
		{
			"no_header",
			"",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filenameFromContentDisposition(tt.header); got != tt.want {
				t.Errorf("filenameFromContentDisposition(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestResolveFilename_PriorityOrder(t *testing.T) {
	t.Run("explicit_wins", func(t *testing.T) {
		got := ResolveFilename("explicit.bin", ProbeResult{ContentDispName: "cd.bin"}, "https://x/u.bin", "id1")
		if got != "explicit.bin" {
			t.Errorf("got %q, want explicit.bin", got)
		}
	})

	t.Run("content_disposition_over_url", func(t *testing.T) {
		got := ResolveFilename("", ProbeResult{ContentDispName: "a/b.bin"}, "https://x/u.bin", "id1")
		if got != "a_b.bin" {
			t.Errorf("got %q, want a_b.bin (sanitized)", got)
		}
	})

	t.Run("url_path_segment", func(t *testing.T) {
		got := ResolveFilename("", ProbeResult{}, "https://x/dir/movie.mp4", "id1")
		if got != "movie.mp4" {
			t.Errorf("got %q, want movie.mp4", got)
		}
	})

	t.Run("fallback_to_generated_name", func(t *testing.T) {
		got := ResolveFilename("", ProbeResult{}, "https://x/", "abc123")
		want := "net-manthan-download-abc123.nm"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})
}
