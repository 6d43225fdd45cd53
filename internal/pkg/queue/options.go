package queue

import (
	"github.com/qs3c/cv_score_server/config"
)

// OptionsFromConfig 按配置生成两级队列共用的参数，未配置的项沿用默认值
func OptionsFromConfig(cfg *config.QueueConfig) QueueOptions {
	return QueueOptions{
		DefaultJobOptions: JobOptions{
			Attempts: cfg.Attempts,
			Backoff:  Backoff{Type: BackoffExponential, Delay: cfg.BackoffDelay()},
		},
		KeepCompleted: cfg.KeepCompleted,
		KeepFailed:    cfg.KeepFailed,
		LockDuration:  cfg.LockDuration(),
	}.withDefaults()
}
