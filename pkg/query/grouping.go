package query

import (
	"time"

	"converse/pkg/models"
)

// GroupBySenderRun splits an ordered message sequence into contiguous
// runs sharing a sender. A new run starts whenever the sender changes
// from the previous message. [A,A,B,A] yields [[A,A],[B],[A]].
func GroupBySenderRun(msgs []models.Message) [][]models.Message {
	var out [][]models.Message
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1][0].Sender == m.Sender {
			out[n-1] = append(out[n-1], m)
			continue
		}
		out = append(out, []models.Message{m})
	}
	return out
}

// DateGroup is a calendar day's worth of messages for date separators.
type DateGroup struct {
	Date     string           `json:"date"` // YYYY-MM-DD in the caller's zone
	Messages []models.Message `json:"messages"`
}

// GroupByCalendarDate buckets an ordered message sequence by the
// calendar date of created_at in loc. Group order follows message
// order. A nil loc means UTC.
func GroupByCalendarDate(msgs []models.Message, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.UTC
	}
	var out []DateGroup
	for _, m := range msgs {
		day := time.Unix(0, m.CreatedTS).In(loc).Format("2006-01-02")
		if n := len(out); n > 0 && out[n-1].Date == day {
			out[n-1].Messages = append(out[n-1].Messages, m)
			continue
		}
		out = append(out, DateGroup{Date: day, Messages: []models.Message{m}})
	}
	return out
}
