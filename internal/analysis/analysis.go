// Package analysis holds the instruction sent with the product photo and the
// best-effort parser that turns the model's free text into four fields.
package analysis

import "strings"

// Prompt asks for exactly four lines, one per field, in the order Parse reads them.
const Prompt = `You are a professional prompt engineer for AI product videos.
Analyze this product photo and return the following 4 pieces of information:
1. Product Name
2. Target Audience
3. Pain Point (in English)
4. Key Feature/Solution (in English)
List the content directly, one item per line, without a heading.`

const (
	DefaultName     = "Product"
	DefaultAudience = "Users"
	DefaultPain     = "Pain"
	DefaultSolution = "Solution"
)

type Result struct {
	Name     string `json:"name"`
	Audience string `json:"audience"`
	Pain     string `json:"pain"`
	Solution string `json:"sol"`
}

// Parse never fails. Line i (after dropping blank lines) fills field i, taking
// only the text after the line's LAST colon: "Pain: 9:00am rush: tired" yields
// "tired". Missing lines keep the defaults.
func Parse(text string) Result {
	lines := nonBlankLines(text)

	fields := [4]string{DefaultName, DefaultAudience, DefaultPain, DefaultSolution}
	for i := 0; i < len(fields) && i < len(lines); i++ {
		fields[i] = lastSegment(lines[i])
	}

	return Result{
		Name:     fields[0],
		Audience: fields[1],
		Pain:     fields[2],
		Solution: fields[3],
	}
}

func nonBlankLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// lastSegment trims the value so "Product: Acme Widget" yields "Acme Widget"
// and the script templates never carry a stray leading space.
//
// TODO: "1. Name: Acme" keeps everything after the last colon, so values that
// legitimately contain a colon (times, ratios) are truncated. Revisit once
// the prompt asks for a delimiter the model cannot echo inside a value.
func lastSegment(line string) string {
	if idx := strings.LastIndex(line, ":"); idx >= 0 {
		line = line[idx+1:]
	}
	return strings.TrimSpace(line)
}
