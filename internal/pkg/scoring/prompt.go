package scoring

import (
	"strings"
)

const promptTemplate = `You are an experienced technical recruiter. Evaluate the CV below and respond with a single JSON object and nothing else.

Score each dimension from 0 to 100:
- experienceScore: relevance, depth and progression of work experience
- educationScore: level and relevance of education and certifications
- skillsScore: breadth and depth of technical and soft skills

The JSON object must have exactly these fields:
{
  "experienceScore": number,
  "educationScore": number,
  "skillsScore": number,
  "experienceAnalysis": string,
  "educationAnalysis": string,
  "skillsAnalysis": string,
  "overallFeedback": string,
  "yearsOfExperience": number or null,
  "educationLevel": string or null,
  "keySkills": [string],
  "jobTitles": [string],
  "companies": [string]
}

CV:
"""
{{CV_TEXT}}
"""`

// BuildPrompt 把简历文本填入固定模板，超过 maxChars 个字符的部分被截断
func BuildPrompt(cvText string, maxChars int) string {
	text := strings.TrimSpace(cvText)
	if maxChars > 0 {
		runes := []rune(text)
		if len(runes) > maxChars {
			text = string(runes[:maxChars])
		}
	}
	return strings.Replace(promptTemplate, "{{CV_TEXT}}", text, 1)
}
