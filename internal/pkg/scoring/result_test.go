package scoring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundHalfUp(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 0},
		{84.4, 84},
		{84.5, 85},
		{84.6, 85},
		{100, 100},
		{255.0 / 3, 85},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundHalfUp(tt.in), "RoundHalfUp(%v)", tt.in)
	}
}

func TestOverallScore(t *testing.T) {
	tests := []struct {
		name       string
		experience int
		education  int
		skills     int
		want       int
	}{
		{"exact mean", 70, 80, 90, 80},
		{"rounds down", 80, 80, 81, 80},
		{"rounds up", 80, 81, 81, 81},
		{"all zero", 0, 0, 0, 0},
		{"all max", 100, 100, 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OverallScore(tt.experience, tt.education, tt.skills))
		})
	}
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding prose", "Here you go: {\"a\":1} hope it helps", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.in))
		})
	}
}

func TestParseResult_Valid(t *testing.T) {
	raw := "```json\n" + `{
		"experienceScore": 72.5,
		"educationScore": 80,
		"skillsScore": 91,
		"experienceAnalysis": "Solid backend work",
		"educationAnalysis": "BSc Computer Science",
		"skillsAnalysis": "Go, Redis, MySQL",
		"overallFeedback": "Strong candidate",
		"yearsOfExperience": 6,
		"educationLevel": "Bachelor",
		"keySkills": ["Go", "Redis"],
		"jobTitles": ["Backend Engineer"],
		"companies": ["Acme"]
	}` + "\n```"

	result, err := ParseResult(raw)
	require.NoError(t, err)

	assert.Equal(t, 73, result.ExperienceScore)
	assert.Equal(t, 80, result.EducationScore)
	assert.Equal(t, 91, result.SkillsScore)
	assert.Equal(t, 81, result.OverallScore)
	assert.Equal(t, "Strong candidate", result.OverallFeedback)
	require.NotNil(t, result.YearsOfExperience)
	assert.Equal(t, 6, *result.YearsOfExperience)
	require.NotNil(t, result.EducationLevel)
	assert.Equal(t, "Bachelor", *result.EducationLevel)
	assert.Equal(t, []string{"Go", "Redis"}, result.KeySkills)
	assert.Equal(t, []string{"Backend Engineer"}, result.JobTitles)
	assert.Equal(t, []string{"Acme"}, result.Companies)
}

func TestParseResult_OptionalFieldsLenient(t *testing.T) {
	raw := `{
		"experienceScore": 50,
		"educationScore": 60,
		"skillsScore": 70,
		"yearsOfExperience": "about five",
		"educationLevel": 3,
		"keySkills": "Go",
		"jobTitles": [1, "Engineer", null],
		"overallFeedback": null
	}`

	result, err := ParseResult(raw)
	require.NoError(t, err)

	assert.Equal(t, 60, result.OverallScore)
	assert.Nil(t, result.YearsOfExperience)
	assert.Nil(t, result.EducationLevel)
	assert.Empty(t, result.KeySkills)
	assert.Equal(t, []string{"Engineer"}, result.JobTitles)
	assert.Empty(t, result.Companies)
	assert.Empty(t, result.OverallFeedback)
}

func TestParseResult_YearsAsString(t *testing.T) {
	result, err := ParseResult(`{"experienceScore":1,"educationScore":1,"skillsScore":1,"yearsOfExperience":"4.5"}`)
	require.NoError(t, err)
	require.NotNil(t, result.YearsOfExperience)
	assert.Equal(t, 5, *result.YearsOfExperience)
}

func TestParseResult_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "I cannot evaluate this CV."},
		{"truncated", `{"experienceScore": 70, "educationScore"`},
		{"array", `[70, 80, 90]`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResult(tt.raw)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestParseResult_InvalidScore(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing skills", `{"experienceScore": 70, "educationScore": 80}`},
		{"string score", `{"experienceScore": "70", "educationScore": 80, "skillsScore": 90}`},
		{"null score", `{"experienceScore": null, "educationScore": 80, "skillsScore": 90}`},
		{"above range", `{"experienceScore": 170, "educationScore": 80, "skillsScore": 90}`},
		{"negative", `{"experienceScore": -1, "educationScore": 80, "skillsScore": 90}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResult(tt.raw)
			assert.ErrorIs(t, err, ErrInvalidScore)
			assert.NotErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("  Jane Doe, Go engineer  ", 0)
	assert.Contains(t, prompt, "Jane Doe, Go engineer")
	assert.Contains(t, prompt, "experienceScore")
	assert.NotContains(t, prompt, "{{CV_TEXT}}")

	long := strings.Repeat("简", 50)
	truncated := BuildPrompt(long, 10)
	assert.Contains(t, truncated, strings.Repeat("简", 10))
	assert.NotContains(t, truncated, strings.Repeat("简", 11))

	assert.Equal(t, BuildPrompt("same text", 100), BuildPrompt("same text", 100))
}
