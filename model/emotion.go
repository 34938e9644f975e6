package model

// AnalyzeRequest 单帧识别请求
type AnalyzeRequest struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	ClassID   string `json:"classId"`
	Image     string `json:"image"` // base64，可带 data URI 前缀
}

// AnalyzeResult 单帧识别结果，confidence 与 emotions 均为百分制
type AnalyzeResult struct {
	Success    bool               `json:"success"`
	StudentID  string             `json:"studentId"`
	Name       string             `json:"name"`
	ClassID    string             `json:"classId"`
	Emotion    string             `json:"emotion"`
	Confidence float64            `json:"confidence"`
	Emotions   map[string]float64 `json:"emotions,omitempty"`
	Box        []int              `json:"box"` // [x, y, w, h]
	Source     *string            `json:"source"`
	Warning    *string            `json:"warning"`
	Engagement int                `json:"engagement"`
	FastTime   *float64           `json:"fastTime"`
	SlowTime   *float64           `json:"slowTime"`
	Timestamp  int64              `json:"timestamp"`
}

// BatchRequest 批量识别请求
type BatchRequest struct {
	Frames []AnalyzeRequest `json:"frames"`
}

// BatchItem 批量结果中的一项，成功时 Result 非空
type BatchItem struct {
	Index  int            `json:"index"`
	Result *AnalyzeResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// BatchResponse 批量识别响应
type BatchResponse struct {
	Success bool        `json:"success"`
	Items   []BatchItem `json:"items"`
}

// SubjectSummary 班级汇总中单个学生的统计
type SubjectSummary struct {
	StudentID       string         `json:"studentId"`
	Name            string         `json:"name"`
	Samples         int            `json:"samples"`
	AvgEngagement   float64        `json:"avgEngagement"`
	DominantEmotion string         `json:"dominantEmotion"`
	Counts          map[string]int `json:"counts"`
	LastSeen        int64          `json:"lastSeen"`
}

// ClassSummary 班级汇总
type ClassSummary struct {
	ClassID  string           `json:"classId"`
	Subjects []SubjectSummary `json:"subjects"`
}

// SummaryResponse 汇总查询响应
type SummaryResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    *ClassSummary `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
