package scoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrMalformedResponse = errors.New("malformed scoring response")
	ErrInvalidScore      = errors.New("invalid scores in scoring response")
)

const scoreSchemaJSON = `{
  "type": "object",
  "required": ["experienceScore", "educationScore", "skillsScore"],
  "properties": {
    "experienceScore": {"type": "number", "minimum": 0, "maximum": 100},
    "educationScore": {"type": "number", "minimum": 0, "maximum": 100},
    "skillsScore": {"type": "number", "minimum": 0, "maximum": 100}
  }
}`

var scoreSchema = mustCompileSchema("score.json", scoreSchemaJSON)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(schema))); err != nil {
		panic(fmt.Sprintf("add schema: %v", err))
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return compiled
}

// Result 解析并校验后的评分结果
type Result struct {
	ExperienceScore    int
	EducationScore     int
	SkillsScore        int
	OverallScore       int
	ExperienceAnalysis string
	EducationAnalysis  string
	SkillsAnalysis     string
	OverallFeedback    string
	YearsOfExperience  *int
	EducationLevel     *string
	KeySkills          []string
	JobTitles          []string
	Companies          []string
}

// RoundHalfUp 四舍五入，.5 向上取整
func RoundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// OverallScore 三项整数分的平均值，四舍五入
func OverallScore(experience, education, skills int) int {
	return RoundHalfUp(float64(experience+education+skills) / 3)
}

// CleanJSON 去掉 markdown 代码块并截取最外层的 JSON 对象
func CleanJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end != -1 && end > start {
		content = content[start : end+1]
	}

	return strings.TrimSpace(content)
}

// ParseResult 解析模型输出；非 JSON 对象返回 ErrMalformedResponse，分数缺失或越界返回 ErrInvalidScore
func ParseResult(raw string) (*Result, error) {
	cleaned := CleanJSON(raw)

	var doc interface{}
	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	fields, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedResponse)
	}

	if err := scoreSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScore, err)
	}

	result := &Result{
		ExperienceScore:    RoundHalfUp(number(fields["experienceScore"])),
		EducationScore:     RoundHalfUp(number(fields["educationScore"])),
		SkillsScore:        RoundHalfUp(number(fields["skillsScore"])),
		ExperienceAnalysis: str(fields["experienceAnalysis"]),
		EducationAnalysis:  str(fields["educationAnalysis"]),
		SkillsAnalysis:     str(fields["skillsAnalysis"]),
		OverallFeedback:    str(fields["overallFeedback"]),
		YearsOfExperience:  optionalInt(fields["yearsOfExperience"]),
		EducationLevel:     optionalString(fields["educationLevel"]),
		KeySkills:          stringList(fields["keySkills"]),
		JobTitles:          stringList(fields["jobTitles"]),
		Companies:          stringList(fields["companies"]),
	}
	result.OverallScore = OverallScore(result.ExperienceScore, result.EducationScore, result.SkillsScore)

	return result, nil
}

func number(v interface{}) float64 {
	switch n := v.(type) {
	case json.Number:
		f, _ := n.Float64()
		return f
	case float64:
		return n
	}
	return 0
}

func str(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func optionalString(v interface{}) *string {
	s := str(v)
	if s == "" {
		return nil
	}
	return &s
}

// optionalInt 接受数字或数字字符串，其他类型视为缺失
func optionalInt(v interface{}) *int {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	i := RoundHalfUp(f)
	return &i
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := str(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
