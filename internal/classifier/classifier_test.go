package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatusField(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Outcome
	}{
		{"failed status", `{"status": "Failed"}`, Failure},
		{"uppercase failed", `{"status": "FAILED"}`, Failure},
		{"cancelled status", `{"status": "CANCELLED"}`, Failure},
		{"error state", `{"state": "execution_error"}`, Failure},
		{"completed with assets", `{"status": "COMPLETED", "images": ["x"]}`, Success},
		{"completed bare", `{"status": "COMPLETED"}`, Success},
		{"succeeded", `{"jobStatus": "SUCCEEDED"}`, Success},
		{"finished", `{"state": "finished"}`, Success},
		{"in queue", `{"status": "IN_QUEUE"}`, Pending},
		{"in progress", `{"status": "IN_PROGRESS"}`, Pending},
		{"empty object", `{}`, Pending},
		{"unknown status", `{"status": "WARMING_UP"}`, Pending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify([]byte(tt.payload)))
		})
	}
}

func TestClassifyErrorFieldWinsOverStatus(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"top-level error", `{"status": "COMPLETED", "error": "out of memory"}`},
		{"nested result error", `{"output": {"result": {"error": "x"}}}`},
		{"output error", `{"status": "IN_PROGRESS", "output": {"error_message": "cuda oom"}}`},
		{"error list", `{"errors": ["node 3 failed"]}`},
		{"failure reason", `{"failureReason": "timeout"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Failure, Classify([]byte(tt.payload)))
		})
	}
}

func TestClassifyAssetShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Outcome
	}{
		{"single image", `{"image": "data:image/png;base64,xxx"}`, Success},
		{"image list", `{"images": ["a.png", "b.png"]}`, Success},
		{"runpod output", `{"status": "done", "output": {"video_url": "https://cdn/x.mp4"}}`, Success},
		{"comfy history", `{"outputs": {"9": {"images": [{"filename": "wan_0001.png", "type": "output"}]}}}`, Success},
		{"comfy gifs", `{"outputs": {"12": {"gifs": [{"filename": "out.webp"}]}}}`, Success},
		{"empty image list", `{"images": []}`, Pending},
		{"blank image", `{"image": "  "}`, Pending},
		{"empty output object", `{"output": {}}`, Pending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify([]byte(tt.payload)))
		})
	}
}

func TestClassifyMalformedPayloads(t *testing.T) {
	assert.Equal(t, Pending, Classify(nil))
	assert.Equal(t, Pending, Classify([]byte("")))
	assert.Equal(t, Pending, Classify([]byte("not json")))
	assert.Equal(t, Pending, Classify([]byte(`"just a string"`)))
	assert.Equal(t, Pending, Classify([]byte(`[1, 2, 3]`)))
	assert.Equal(t, Pending, Classify([]byte(`{"status": 42}`)))
}

func TestClassifyIsDeterministic(t *testing.T) {
	payload := []byte(`{"status": "COMPLETED", "images": ["x"]}`)
	first := Classify(payload)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(payload))
	}
}
