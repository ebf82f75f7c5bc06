package citymatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDependents(t *testing.T) {
	tests := []struct {
		m     Mutation
		keys  []Key
		kinds []KeyKind
	}{
		{MutationStartChat, []Key{ChatListKey()}, nil},
		{MutationSendMessage, []Key{HistoryKey(9), ChatListKey()}, nil},
		{MutationActivatePlan, []Key{PlanKey(), ChatListKey()}, nil},
		{MutationBlockUser, []Key{ChatListKey()}, []KeyKind{KeyProfilesByCity}},
		{MutationReportUser, nil, nil},
		{MutationSaveProfile, []Key{ProfileKey()}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.m.String(), func(t *testing.T) {
			keys, kinds := dependents(tt.m, 9)
			assert.Equal(t, tt.keys, keys)
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestNotificationKeys(t *testing.T) {
	assert.Equal(t, []Key{HistoryKey(3), ChatListKey()}, notificationKeys(Notification{Type: NotifyMessageNew, ChatID: 3}))
	assert.Equal(t, []Key{ChatListKey()}, notificationKeys(Notification{Type: NotifyChatNew}))
	assert.Equal(t, []Key{PlanKey(), ChatListKey()}, notificationKeys(Notification{Type: NotifyPlanChanged}))
	assert.Nil(t, notificationKeys(Notification{Type: "typing.start"}))
}
