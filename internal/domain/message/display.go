package message

// DisplayContent renders the message for list previews. Media types
// collapse to a placeholder label; channel join/leave messages become a
// sentence built from the resolved display name of the subject.
func (m *Message) DisplayContent(r Namer) string {
	switch m.Type {
	case TypeEnterChannel, TypeLeaveChannel:
		// the payload is the uid of the user who joined or left
		subject := m.Content
		isMe := subject == r.CurrentUID()
		if m.Type == TypeEnterChannel {
			if isMe {
				return "you joined the channel"
			}
			return r.DisplayName(subject) + " joined the channel"
		}
		if isMe {
			return "you left the channel"
		}
		return r.DisplayName(subject) + " left the channel"
	case TypeImage:
		return "[image]"
	case TypeAudio:
		return "[audio]"
	case TypeLocation:
		return "[location]"
	case TypeFile:
		return "[file]"
	default:
		if m.Content == "" {
			return "-"
		}
		return m.Content
	}
}

// SenderName renders the sender for list previews.
func (m *Message) SenderName(r Namer) string {
	if m.FromMe {
		return "me"
	}
	return r.DisplayName(m.From)
}
