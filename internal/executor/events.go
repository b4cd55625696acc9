package executor

import (
	"regexp"
	"strconv"
	"time"
)

// EventType — тип события жизненного цикла прогона.
type EventType string

// События, публикуемые экзекьютором.
const (
	EventStart        EventType = "start"
	EventNodeStart    EventType = "nodeStart"
	EventNodeComplete EventType = "nodeComplete"
	EventNodeError    EventType = "nodeError"
	EventPause        EventType = "pause"
	EventResume       EventType = "resume"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Event — событие жизненного цикла с привязкой к узлу.
type Event struct {
	Type      EventType
	NodeID    string
	Timestamp time.Time
	Err       error
}

// EventFunc — подписчик событий прогона.
type EventFunc func(Event)

var durationRe = regexp.MustCompile(`^(\d+)(ms|s|m|h)?$`)

// parseWait разбирает длительность узлов delay/approval: целое число
// миллисекунд либо строка вида "500ms", "2s", "1m", "1h".
// Нераспознанный формат даёт 1000ms.
func parseWait(raw string) time.Duration {
	m := durationRe.FindStringSubmatch(raw)
	if m == nil {
		return time.Second
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Second
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	default:
		return time.Duration(n) * time.Millisecond
	}
}
