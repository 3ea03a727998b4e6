package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColor_Valid(t *testing.T) {
	tests := []struct {
		input string
		want  Color
	}{
		{"#a1b2c3", Color{R: 0xa1, G: 0xb2, B: 0xc3, A: 0xff}},
		{"#A1B2C3", Color{R: 0xa1, G: 0xb2, B: 0xc3, A: 0xff}},
		{"#abc", Color{R: 0xaa, G: 0xbb, B: 0xcc, A: 0xff}},
		{"#abcd", Color{R: 0xaa, G: 0xbb, B: 0xcc, A: 0xdd}},
		{"#11223344", Color{R: 0x11, G: 0x22, B: 0x33, A: 0x44}},
		{"rgb(255, 0, 128)", Color{R: 255, G: 0, B: 128, A: 0xff}},
		{"rgb(0,0,0)", Color{A: 0xff}},
		{"rgba(10, 20, 30, 0.5)", Color{R: 10, G: 20, B: 30, A: 128}},
		{"rgba(10,20,30,1)", Color{R: 10, G: 20, B: 30, A: 255}},
		{"rgba(10,20,30,0)", Color{R: 10, G: 20, B: 30, A: 0}},
		{"rgba(10,20,30,.25)", Color{R: 10, G: 20, B: 30, A: 64}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseColor(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseColor_Invalid(t *testing.T) {
	tests := []string{
		"#GGGGGG",
		"#12345",
		"a1b2c3",
		"",
		"rgb(256, 0, 0)",
		"rgb(1, 2)",
		"rgba(1, 2, 3, 1.5)",
		"rgba(1, 2, 3)",
		"hsl(120, 50%, 50%)",
		"#a1b2c3; rm -rf /",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := ParseColor(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFormat))
		})
	}
}

func TestColorHex(t *testing.T) {
	assert.Equal(t, "#a1b2c3", Color{R: 0xa1, G: 0xb2, B: 0xc3, A: 0xff}.Hex())
	assert.Equal(t, "#a1b2c380", Color{R: 0xa1, G: 0xb2, B: 0xc3, A: 0x80}.Hex())
}
