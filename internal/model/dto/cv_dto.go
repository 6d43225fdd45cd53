package dto

// UploadURLRequest 申请直传地址
type UploadURLRequest struct {
	Filename    string `json:"filename" binding:"required,max=255"`
	ContentType string `json:"content_type" binding:"required,max=100"`
	FileSize    int64  `json:"file_size" binding:"required,min=1"`
}

// UploadURLResponse 直传地址，上传时需要携带 Fields 中的请求头
type UploadURLResponse struct {
	UploadURL  string            `json:"upload_url"`
	Fields     map[string]string `json:"fields"`
	StorageKey string            `json:"storage_key"`
	ExpiresIn  int64             `json:"expires_in"`
}

// RegisterCVRequest 上传完成后登记简历
type RegisterCVRequest struct {
	StorageKey string `json:"storage_key" binding:"required,max=500"`
	Filename   string `json:"filename" binding:"required,max=255"`
	FileSize   int64  `json:"file_size" binding:"required,min=1"`
	MimeType   string `json:"mime_type" binding:"required,max=100"`
}

// ProcessCVResponse 触发处理的结果，冲突时 Status 为当前状态
type ProcessCVResponse struct {
	CVID   int64  `json:"cv_id"`
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
}

// CVListItem 简历列表项
type CVListItem struct {
	ID           int64  `json:"id"`
	Filename     string `json:"filename"`
	FileSize     int64  `json:"file_size"`
	MimeType     string `json:"mime_type"`
	Status       string `json:"status"`
	OverallScore *int   `json:"overall_score,omitempty"`
	UploadedAt   string `json:"uploaded_at"`
	ProcessedAt  string `json:"processed_at,omitempty"`
}

// CVDetail 简历详情
type CVDetail struct {
	CVListItem
	Analysis *AnalysisResult `json:"analysis,omitempty"`
}

// AnalysisResult 评分结果
type AnalysisResult struct {
	ExperienceScore    int      `json:"experience_score"`
	EducationScore     int      `json:"education_score"`
	SkillsScore        int      `json:"skills_score"`
	OverallScore       int      `json:"overall_score"`
	ExperienceAnalysis string   `json:"experience_analysis"`
	EducationAnalysis  string   `json:"education_analysis"`
	SkillsAnalysis     string   `json:"skills_analysis"`
	OverallFeedback    string   `json:"overall_feedback"`
	YearsOfExperience  *int     `json:"years_of_experience,omitempty"`
	EducationLevel     *string  `json:"education_level,omitempty"`
	KeySkills          []string `json:"key_skills"`
	JobTitles          []string `json:"job_titles"`
	Companies          []string `json:"companies"`
	ModelName          string   `json:"model_name"`
	ProcessingTimeMs   int64    `json:"processing_time_ms"`
	TokensUsed         int      `json:"tokens_used"`
	CreatedAt          string   `json:"created_at"`
}

// ProcessingLogItem 处理日志
type ProcessingLogItem struct {
	ID        int64   `json:"id"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Error     *string `json:"error,omitempty"`
	CreatedAt string  `json:"created_at"`
}
