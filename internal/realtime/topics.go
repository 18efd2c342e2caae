package realtime

import "strings"

const (
	TopicGlobalFeed = "feed.global"

	prefixNotifications = "notifications."
	prefixThreads       = "threads."
	prefixMessages      = "messages."
	prefixComments      = "comments."
	prefixPost          = "post."
)

func NotificationsTopic(userID string) string { return prefixNotifications + userID }
func ThreadsTopic(userID string) string       { return prefixThreads + userID }
func MessagesTopic(threadID string) string    { return prefixMessages + threadID }
func CommentsTopic(postID string) string      { return prefixComments + postID }
func PostTopic(postID string) string          { return prefixPost + postID }

type TopicKind int

const (
	KindUnknown TopicKind = iota
	KindGlobalFeed
	KindNotifications
	KindThreads
	KindMessages
	KindComments
	KindPost
)

// ParseTopic splits a topic into its kind and key, e.g. ("messages.a_b") ->
// (KindMessages, "a_b").
func ParseTopic(topic string) (TopicKind, string) {
	if topic == TopicGlobalFeed {
		return KindGlobalFeed, ""
	}
	for _, p := range []struct {
		prefix string
		kind   TopicKind
	}{
		{prefixNotifications, KindNotifications},
		{prefixThreads, KindThreads},
		{prefixMessages, KindMessages},
		{prefixComments, KindComments},
		{prefixPost, KindPost},
	} {
		if key, ok := strings.CutPrefix(topic, p.prefix); ok && key != "" {
			return p.kind, key
		}
	}
	return KindUnknown, ""
}
