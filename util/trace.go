package util

import (
	"time"

	"go.uber.org/zap"
)

// Trace 记录耗时, 用法: defer util.Trace("remove")()
func Trace(msg string) func() {
	start := time.Now()
	zap.L().Debug("enter " + msg)
	return func() {
		zap.L().Info("exit "+msg, zap.Duration("elapsed", time.Since(start)))
	}
}
