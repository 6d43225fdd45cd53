package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringArray 用于 JSON 数组字段
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringArray) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = StringArray{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported StringArray source %T", value)
	}
}

// CVAnalysis 一份简历的 AI 评分结果，每份简历至多一条
type CVAnalysis struct {
	ID                 int64       `gorm:"primaryKey" json:"id"`
	CVID               int64       `gorm:"column:cv_id;not null;uniqueIndex" json:"cv_id"`
	ExperienceScore    int         `gorm:"not null" json:"experience_score"`
	EducationScore     int         `gorm:"not null" json:"education_score"`
	SkillsScore        int         `gorm:"not null" json:"skills_score"`
	OverallScore       int         `gorm:"not null;index" json:"overall_score"`
	ExperienceAnalysis string      `gorm:"type:text" json:"experience_analysis"`
	EducationAnalysis  string      `gorm:"type:text" json:"education_analysis"`
	SkillsAnalysis     string      `gorm:"type:text" json:"skills_analysis"`
	OverallFeedback    string      `gorm:"type:text" json:"overall_feedback"`
	YearsOfExperience  *int        `json:"years_of_experience,omitempty"`
	EducationLevel     *string     `gorm:"size:100" json:"education_level,omitempty"`
	KeySkills          StringArray `gorm:"type:json" json:"key_skills"`
	JobTitles          StringArray `gorm:"type:json" json:"job_titles"`
	Companies          StringArray `gorm:"type:json" json:"companies"`
	ModelName          string      `gorm:"size:100" json:"model_name"`
	ProcessingTimeMs   int64       `json:"processing_time_ms"`
	TokensUsed         int         `json:"tokens_used"`
	CreatedAt          time.Time   `json:"created_at"`
}

func (CVAnalysis) TableName() string {
	return "cv_analyses"
}
