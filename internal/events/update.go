package events

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/datallboy/dlqueue/internal/infra/logger"
)

// Commands understood by the presentation layer.
const (
	CommandNew          = "new"
	CommandUpdate       = "update"
	CommandPlaylistMenu = "playlist_menu"
	CommandStreamMenu   = "stream_menu"
	CommandList         = "d_list"
	CommandTotalSpeed   = "total_speed"
	CommandSignal       = "signal"
)

// Update is one message for observers. It always carries "id" and "command".
type Update map[string]any

func (u Update) Command() string {
	s, _ := u["command"].(string)
	return s
}

func (u Update) ID() string {
	s, _ := u["id"].(string)
	return s
}

// New builds an update for id with the given command and fields.
func New(command, id string, fields map[string]any) Update {
	u := make(Update, len(fields)+2)
	maps.Copy(u, fields)
	u["command"] = command
	u["id"] = id
	return u
}

// Sink is the presentation boundary. Publish must not block.
type Sink interface {
	Publish(u Update)
}

type SinkFunc func(Update)

func (f SinkFunc) Publish(u Update) { f(u) }

// MultiSink publishes to every sink in order.
type MultiSink []Sink

func (m MultiSink) Publish(u Update) {
	for _, s := range m {
		s.Publish(u)
	}
}

// Discard drops every update.
var Discard Sink = SinkFunc(func(Update) {})

// LogSink writes updates to the debug log.
type LogSink struct {
	Log *logger.Logger
}

func (s LogSink) Publish(u Update) {
	keys := make([]string, 0, len(u))
	for k := range u {
		if k != "command" && k != "id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, u[k])
	}
	s.Log.Debug("event %s %s %s", u.Command(), u.ID(), b.String())
}
