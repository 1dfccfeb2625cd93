package api_test

import (
	"testing"

	"omniui/internal/api"
)

func TestValidateJobPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"input_images":["a.png"],"instruction":"x","num_inference_step":50,"height":1024,"width":512,"guidance_scale":5}`, false},
		{"no images", `{"input_images":[],"instruction":"x","num_inference_step":50,"height":1024,"width":1024,"guidance_scale":5}`, true},
		{"blank instruction", `{"input_images":["a.png"],"instruction":"   ","num_inference_step":50,"height":1024,"width":1024,"guidance_scale":5}`, true},
		{"zero steps", `{"input_images":["a.png"],"instruction":"x","num_inference_step":0,"height":1024,"width":1024,"guidance_scale":5}`, true},
		{"fractional steps", `{"input_images":["a.png"],"instruction":"x","num_inference_step":2.5,"height":1024,"width":1024,"guidance_scale":5}`, true},
		{"off-enum height", `{"input_images":["a.png"],"instruction":"x","num_inference_step":50,"height":1000,"width":1024,"guidance_scale":5}`, true},
		{"zero guidance", `{"input_images":["a.png"],"instruction":"x","num_inference_step":50,"height":1024,"width":1024,"guidance_scale":0}`, true},
		{"unknown field", `{"input_images":["a.png"],"instruction":"x","num_inference_step":50,"height":1024,"width":1024,"guidance_scale":5,"seed":1}`, true},
		{"not json", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := api.ValidateJobPayload([]byte(tt.payload))
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
