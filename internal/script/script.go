package script

import (
	"fmt"
	"strings"

	"product-script-studio/internal/analysis"
)

type Block struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

type Scripts struct {
	Pain     Block `json:"pain"`
	Solution Block `json:"solution"`
	Scenario Block `json:"scenario"`
	CTA      Block `json:"cta"`
}

func Render(r analysis.Result) Scripts {
	return Scripts{
		Pain: Block{
			Label: "Pain (T2V)",
			Text:  fmt.Sprintf("Cinematic, Taiwanese person (%s) frustrated by %s, 4k.", r.Audience, r.Pain),
		},
		Solution: Block{
			Label: "Solution (I2V)",
			Text:  fmt.Sprintf("Shot of **%s from start frame**, modern table, glowing, %s, 4k.", r.Name, r.Solution),
		},
		Scenario: Block{
			Label: "Scenario (I2V)",
			Text:  fmt.Sprintf("Lifestyle, Taiwanese model using **%s from start frame**, sunny day.", r.Name),
		},
		CTA: Block{
			Label: "CTA (T2V)",
			Text:  "Close up product, thumbs up, text 'Shop Now'.",
		},
	}
}

// Blocks returns the four scripts in display order.
func (s Scripts) Blocks() []Block {
	return []Block{s.Pain, s.Solution, s.Scenario, s.CTA}
}

func (s Scripts) String() string {
	var b strings.Builder
	for i, block := range s.Blocks() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(block.Label)
		b.WriteString(": ")
		b.WriteString(block.Text)
		b.WriteString("\n")
	}
	return b.String()
}
