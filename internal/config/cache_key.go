package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamRulesKey returns the cache key for an exam's proctoring rules
func (r *CacheKeyStruct) ExamRulesKey(examID string) string {
	return fmt.Sprintf("exam:%s:rules", examID)
}

// ExamRulesGenKey counts invalidations of an exam's cached rules
func (r *CacheKeyStruct) ExamRulesGenKey(examID string) string {
	return fmt.Sprintf("exam:%s:rules:gen", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// SessionStreamChannel returns the Redis PubSub channel a student's live
// stream listens on for server-side session events
func (r *CacheKeyStruct) SessionStreamChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:stream", sessionID)
}

// SweepLockKey is held by the replica running the current deadline sweep tick
func (r *CacheKeyStruct) SweepLockKey() string {
	return "worker:deadline_sweep:lock"
}

var CacheKey = NewCacheKeyStruct()
