package domain

import "time"

// Observer receives engine events for metrics.
type Observer interface {
	RunFinished(dest DestinationType, status Status, took time.Duration)
	OverlapSkipped(jobID int64)
	RetentionDeleted(dest DestinationType, count int)
	RetentionFailed(count int)
}

type NopObserver struct{}

func (NopObserver) RunFinished(DestinationType, Status, time.Duration) {}
func (NopObserver) OverlapSkipped(int64)                               {}
func (NopObserver) RetentionDeleted(DestinationType, int)              {}
func (NopObserver) RetentionFailed(int)                                {}
