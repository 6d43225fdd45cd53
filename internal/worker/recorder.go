package worker

import (
	"go.uber.org/zap"

	"github.com/qs3c/cv_score_server/internal/model"
	"github.com/qs3c/cv_score_server/internal/pkg/logger"
)

// LogStore 处理日志的持久化
type LogStore interface {
	Create(entry *model.ProcessingLog) error
}

// Recorder 写入简历处理日志，写入失败只记录不中断流程
type Recorder struct {
	logs   LogStore
	logger *zap.Logger
}

func NewRecorder(logs LogStore, l *zap.Logger) *Recorder {
	return &Recorder{logs: logs, logger: logger.OrNop(l)}
}

// Append 追加一条日志，返回是否写入成功
func (r *Recorder) Append(cvID int64, status model.CVStatus, message, errMsg string) bool {
	entry := &model.ProcessingLog{
		CVID:    cvID,
		Status:  string(status),
		Message: message,
	}
	if errMsg != "" {
		entry.Error = &errMsg
	}

	if err := r.logs.Create(entry); err != nil {
		r.logger.Error("failed to append processing log",
			zap.Int64(logger.FieldCVID, cvID),
			zap.String("status", string(status)),
			zap.String("message", message),
			zap.Error(err),
		)
		return false
	}
	return true
}
