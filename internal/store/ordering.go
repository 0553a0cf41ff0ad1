package store

import (
	"sort"
	"time"

	"github.com/campuskinect/kinect-go/internal/models"
)

// SortConversations orders the list the way the inbox shows it:
// conversations whose most recent message came from the other user first,
// then everything else, each partition newest first. Equal timestamps keep
// their relative input order so coarse clocks don't make the list jitter.
func SortConversations(convs []models.Conversation, currentUserID string) {
	sort.SliceStable(convs, func(i, j int) bool {
		ri, rj := partition(convs[i], currentUserID), partition(convs[j], currentUserID)
		if ri != rj {
			return ri < rj
		}
		return activityTime(convs[i]).After(activityTime(convs[j]))
	})
}

// partition returns 0 for incoming-last conversations, 1 for the rest.
func partition(c models.Conversation, currentUserID string) int {
	if c.IncomingLast(currentUserID) {
		return 0
	}
	return 1
}

func activityTime(c models.Conversation) time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}
