package worker

import (
	"errors"
	"fmt"
)

// ErrorKind 流水线失败的分类
type ErrorKind string

const (
	KindDownload          ErrorKind = "DownloadError"
	KindExtraction        ErrorKind = "ExtractionError"
	KindScoringCall       ErrorKind = "ScoringCallError"
	KindMalformedResponse ErrorKind = "MalformedResponseError"
	KindInvalidScore      ErrorKind = "InvalidScoreError"
	KindPersistence       ErrorKind = "PersistenceError"
	KindEnqueue           ErrorKind = "EnqueueError"
)

// StageError 带分类的阶段错误
type StageError struct {
	Kind    ErrorKind
	Message string // 面向用户的简短描述
	Err     error  // 原始错误
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(kind ErrorKind, message string, err error) *StageError {
	return &StageError{Kind: kind, Message: message, Err: err}
}

// KindOf 返回错误的分类，非 StageError 返回空
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// userMessage 推送给前端的失败描述
func userMessage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
