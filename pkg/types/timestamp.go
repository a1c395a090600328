package types

import "time"

// Timestamp is microseconds since the unix epoch.
type Timestamp int64

func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano() / int64(time.Microsecond))
}

func (ts Timestamp) Time() time.Time {
	return time.Unix(0, int64(ts)*int64(time.Microsecond)).UTC()
}

func (ts Timestamp) String() string {
	if ts == NullTimestamp {
		return "NULL"
	}
	return ts.Time().Format("2006-01-02 15:04:05.000000")
}
