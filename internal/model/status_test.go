package model

import "testing"

func TestDeriveStatus_PriorityOrder(t *testing.T) {
	tests := []struct {
		name     string
		parts    []Status
		fallback Status
		want     Status
	}{
		{"empty_is_created", nil, StatusPaused, StatusCreated},
		{"all_complete", []Status{StatusComplete, StatusComplete}, StatusCreated, StatusComplete},
		{"all_queued", []Status{StatusQueued, StatusQueued}, StatusCreated, StatusQueued},
		{"all_cancelled", []Status{StatusCancelled, StatusCancelled}, StatusCreated, StatusCancelled},
		{
			name:     "any_downloading_wins_over_retrying",
			parts:    []Status{StatusDownloading, StatusRetrying, StatusComplete},
			fallback: StatusCreated,
			want:     StatusDownloading,
		},
		{
			name:     "every_non_complete_connecting",
			parts:    []Status{StatusComplete, StatusConnecting, StatusConnecting},
			fallback: StatusCreated,
			want:     StatusConnecting,
		},
		{
			name:     "every_non_complete_retrying",
			parts:    []Status{StatusComplete, StatusRetrying},
			fallback: StatusCreated,
			want:     StatusRetrying,
		},
		{
			name:     "every_non_complete_failed",
			parts:    []Status{StatusFailed, StatusFailed},
			fallback: StatusCreated,
			want:     StatusFailed,
		},
		{
			name:     "all_paused",
			parts:    []Status{StatusPaused, StatusPaused},
			fallback: StatusCreated,
			want:     StatusPaused,
		},
		{
			name:     "mixed_falls_back_to_explicit_status",
			parts:    []Status{StatusComplete, StatusQueued},
			fallback: StatusFailed,
			want:     StatusFailed,
		},
		{
			name:     "downloading_takes_priority_over_all_rules_below_it",
			parts:    []Status{StatusFailed, StatusDownloading, StatusPaused},
			fallback: StatusCreated,
			want:     StatusDownloading,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.parts, tt.fallback)
			if got != tt.want {
				t.Errorf("DeriveStatus(%v, %v) = %v, want %v", tt.parts, tt.fallback, got, tt.want)
			}
		})
	}
}
