package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// BaseModel 基础模型
type BaseModel struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// StringList 以JSON存储的字符串列表
type StringList []string

// Value 实现 driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (l *StringList) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("StringList: 不支持的类型 %T", value)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

// GenerationRecord 生成历史表，任务进入终态时写入
type GenerationRecord struct {
	BaseModel
	Handle          int        `gorm:"index;not null" json:"handle"`
	JobID           string     `gorm:"uniqueIndex;size:64;not null" json:"job_id"`
	Description     string     `gorm:"type:text" json:"description"`
	Engine          string     `gorm:"size:20;index;not null" json:"engine"`
	AutoSelected    bool       `gorm:"default:false" json:"auto_selected"`
	Complexity      string     `gorm:"size:20" json:"complexity"`
	TargetAudience  string     `gorm:"size:100" json:"target_audience"`
	Features        StringList `gorm:"type:text" json:"features"`
	State           string     `gorm:"size:20;index;not null" json:"state"` // Succeeded, Failed
	Title           string     `gorm:"size:255" json:"title"`
	OutputDirectory string     `gorm:"size:500" json:"output_directory"`
	Files           StringList `gorm:"type:text" json:"files"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationMs      int64      `json:"duration_ms"`
}

// TableName 指定表名
func (GenerationRecord) TableName() string {
	return "generation_records"
}

// NewGenerationRecord 由终态快照构造历史记录
func NewGenerationRecord(s JobSnapshot) *GenerationRecord {
	rec := &GenerationRecord{
		Handle:         s.Handle,
		JobID:          s.JobID,
		Description:    s.Description,
		Engine:         string(s.Config.Engine),
		AutoSelected:   s.Config.AutoSelected,
		Complexity:     string(s.Config.Complexity),
		TargetAudience: s.Config.TargetAudience,
		Features:       StringList(append([]string{}, s.Config.Features...)),
		State:          string(s.State),
		ErrorMessage:   s.Error,
		SubmittedAt:    s.CreatedAt,
		FinishedAt:     s.FinishedAt,
		DurationMs:     s.Duration().Milliseconds(),
		Files:          StringList{},
	}
	if s.Result != nil {
		rec.Title = s.Result.Title
		rec.OutputDirectory = s.Result.OutputDirectory
		rec.Files = StringList(append([]string{}, s.Result.FilesGenerated...))
		if rec.ErrorMessage == "" {
			rec.ErrorMessage = s.Result.ErrorMessage
		}
	}
	return rec
}
