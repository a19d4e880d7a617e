package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Result
	}{
		{
			name: "numbered labels",
			in:   "1. Name: Acme Widget\n2. Audience: busy parents\n3. Pain: back pain\n4. Solution: ergonomic design",
			want: Result{Name: "Acme Widget", Audience: "busy parents", Pain: "back pain", Solution: "ergonomic design"},
		},
		{
			name: "blank lines and crlf",
			in:   "\r\nName: Mug\r\n\r\n   \nAudience: office workers\r\nPain: cold coffee\r\n\nSolution: keeps heat\r\n",
			want: Result{Name: "Mug", Audience: "office workers", Pain: "cold coffee", Solution: "keeps heat"},
		},
		{
			name: "no colons",
			in:   "Thermal Mug\nCommuters\nSpilled drinks\nLeakproof lid",
			want: Result{Name: "Thermal Mug", Audience: "Commuters", Pain: "Spilled drinks", Solution: "Leakproof lid"},
		},
		{
			name: "short response falls back",
			in:   "Name: Lamp\nAudience: students",
			want: Result{Name: "Lamp", Audience: "students", Pain: DefaultPain, Solution: DefaultSolution},
		},
		{
			name: "empty response",
			in:   "",
			want: Result{Name: DefaultName, Audience: DefaultAudience, Pain: DefaultPain, Solution: DefaultSolution},
		},
		{
			name: "extra lines ignored",
			in:   "a\nb\nc\nd\ne: f",
			want: Result{Name: "a", Audience: "b", Pain: "c", Solution: "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.in))
		})
	}
}

func TestParseKeepsTextAfterLastColon(t *testing.T) {
	got := Parse("Name: Alarm\nAudience: workers\nPain: 9:00am rush: tired\nSolution: snooze")
	assert.Equal(t, "tired", got.Pain)

	got = Parse("Name: Ratio 16:9 screen")
	assert.Equal(t, "9 screen", got.Name)
}

func TestParseTrailingColonYieldsEmptyField(t *testing.T) {
	got := Parse("Name:\nAudience: kids")
	assert.Equal(t, "", got.Name)
	assert.Equal(t, "kids", got.Audience)
}
