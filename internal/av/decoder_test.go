package av

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChoosePixelFormat(t *testing.T) {
	tests := []struct {
		name    string
		offered []string
		want    string
		index   int
		hw      bool
	}{
		{"hardware offered", []string{"vaapi", "yuv420p"}, "vaapi", 0, true},
		{"hardware offered last", []string{"yuv420p", "vaapi"}, "vaapi", 1, true},
		{"fallback skips other hardware", []string{"cuda", "vdpau", "nv12", "yuv420p"}, "vaapi", 2, false},
		{"software only", []string{"yuv420p"}, "vaapi", 0, false},
		{"only foreign hardware", []string{"cuda", "qsv"}, "vaapi", -1, false},
		{"nothing offered", nil, "vaapi", -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, hw := choosePixelFormat(tt.offered, tt.want)
			assert.Equal(t, tt.index, index)
			assert.Equal(t, tt.hw, hw)
		})
	}
}
