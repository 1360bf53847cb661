package models

import (
	"encoding/json"
	"testing"
)

func TestModelRecordDecoding(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantID     ModelID
		wantStatus DeployStatus
		wantDeploy bool
	}{
		{
			name:       "nested status object",
			input:      `{"id": "abc", "checkpoint_path": "/ckpt", "deploy": {"status": {"status": "DEPLOYED"}, "path": "/models/abc", "url": "http://host:8102", "token": "t"}}`,
			wantID:     "abc",
			wantStatus: StatusDeployed,
			wantDeploy: true,
		},
		{
			name:       "bare status string",
			input:      `{"id": "abc", "checkpoint_path": "/ckpt", "deploy": {"status": "DROPPED"}}`,
			wantID:     "abc",
			wantStatus: StatusDropped,
			wantDeploy: true,
		},
		{
			name:       "numeric id and no deploy",
			input:      `{"id": 42, "checkpoint_path": "/ckpt"}`,
			wantID:     "42",
			wantStatus: "",
			wantDeploy: false,
		},
		{
			name:       "null deploy",
			input:      `{"id": "x", "checkpoint_path": "/ckpt", "deploy": null}`,
			wantID:     "x",
			wantStatus: "",
			wantDeploy: false,
		},
		{
			name:       "null nested status",
			input:      `{"id": "x", "checkpoint_path": "/ckpt", "deploy": {"status": null}}`,
			wantID:     "x",
			wantStatus: "",
			wantDeploy: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec ModelRecord
			if err := json.Unmarshal([]byte(tt.input), &rec); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if rec.ID != tt.wantID {
				t.Errorf("id = %q, want %q", rec.ID, tt.wantID)
			}
			if rec.Status() != tt.wantStatus {
				t.Errorf("status = %q, want %q", rec.Status(), tt.wantStatus)
			}
			if (rec.Deploy != nil) != tt.wantDeploy {
				t.Errorf("deploy present = %v, want %v", rec.Deploy != nil, tt.wantDeploy)
			}
			if rec.IsDeployed() != (tt.wantStatus == StatusDeployed) {
				t.Errorf("IsDeployed mismatch for status %q", rec.Status())
			}
		})
	}
}

func TestNewTargetValue(t *testing.T) {
	tests := []struct {
		raw     string
		numeric bool
		number  float64
		str     string
	}{
		{raw: "3.5", numeric: true, number: 3.5, str: "3.5"},
		{raw: "2", numeric: true, number: 2, str: "2"},
		{raw: `"B"`, numeric: false, str: "B"},
		{raw: `"3.5"`, numeric: false, str: "3.5"},
		{raw: "null", numeric: false, str: "null"},
		{raw: "", numeric: false, str: ""},
	}
	for _, tt := range tests {
		got := NewTargetValue(tt.raw)
		if got.Numeric != tt.numeric {
			t.Errorf("NewTargetValue(%q).Numeric = %v, want %v", tt.raw, got.Numeric, tt.numeric)
		}
		if tt.numeric && got.Number != tt.number {
			t.Errorf("NewTargetValue(%q).Number = %v, want %v", tt.raw, got.Number, tt.number)
		}
		if got.String() != tt.str {
			t.Errorf("NewTargetValue(%q).String() = %q, want %q", tt.raw, got.String(), tt.str)
		}
	}
}
