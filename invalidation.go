package citymatch

// Mutation names a backend write whose success makes cached reads stale.
type Mutation int

const (
	MutationStartChat Mutation = iota + 1
	MutationSendMessage
	MutationActivatePlan
	MutationBlockUser
	MutationReportUser
	MutationSaveProfile
)

func (m Mutation) String() string {
	switch m {
	case MutationStartChat:
		return "start_chat"
	case MutationSendMessage:
		return "send_message"
	case MutationActivatePlan:
		return "activate_plan"
	case MutationBlockUser:
		return "block_user"
	case MutationReportUser:
		return "report_user"
	case MutationSaveProfile:
		return "save_profile"
	default:
		return "unknown"
	}
}

// dependents lists the keys a successful mutation invalidates. Kinds are
// wildcards covering every key of that kind. chatID is only read for
// MutationSendMessage.
func dependents(m Mutation, chatID ChatID) (keys []Key, kinds []KeyKind) {
	switch m {
	case MutationStartChat:
		return []Key{ChatListKey()}, nil
	case MutationSendMessage:
		return []Key{HistoryKey(chatID), ChatListKey()}, nil
	case MutationActivatePlan:
		return []Key{PlanKey(), ChatListKey()}, nil
	case MutationBlockUser:
		return []Key{ChatListKey()}, []KeyKind{KeyProfilesByCity}
	case MutationSaveProfile:
		return []Key{ProfileKey()}, nil
	}
	return nil, nil
}

// AfterMutation invalidates every key that depends on m.
func (c *Cache) AfterMutation(m Mutation, chatID ChatID) {
	keys, kinds := dependents(m, chatID)
	if len(keys) > 0 {
		c.Invalidate(keys...)
	}
	for _, kind := range kinds {
		c.InvalidateKind(kind)
	}
}
