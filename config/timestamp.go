package config

import "time"

type TimestampGenerator interface {
	GetTimestampUTC() int64
	Now() time.Time
}

type RealTimestampGenerator struct{}

func (t RealTimestampGenerator) GetTimestampUTC() int64 {
	return time.Now().Unix()
}

func (t RealTimestampGenerator) Now() time.Time {
	return time.Now().UTC()
}

type FixedTimestampGenerator struct {
	Timestamp int64
}

func (t FixedTimestampGenerator) GetTimestampUTC() int64 {
	return t.Timestamp
}

func (t FixedTimestampGenerator) Now() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}
