package telegram

import (
	"context"
	"sort"
)

// Chat is a conversation the bot has seen, offered for workspace binding.
type Chat struct {
	ID    int64  `json:"id"`
	Kind  string `json:"kind"` // "private" | "group" | "channel"
	Title string `json:"title"`
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID        int64  `json:"id"`
			Type      string `json:"type"`
			Title     string `json:"title"`
			FirstName string `json:"first_name"`
			Username  string `json:"username"`
		} `json:"chat"`
	} `json:"message"`
}

// KnownChats polls getUpdates and returns the distinct chats that have
// messaged the bot, ordered by chat id. Supergroups count as groups.
func (c *Client) KnownChats(ctx context.Context) ([]Chat, error) {
	var updates []update
	if err := c.call(ctx, "getUpdates", nil, &updates); err != nil {
		return nil, err
	}

	seen := make(map[int64]Chat)
	for _, u := range updates {
		if u.Message == nil {
			continue
		}
		ch := u.Message.Chat
		var chat Chat
		switch ch.Type {
		case "private":
			title := ch.FirstName
			if title == "" {
				title = "User"
			}
			if ch.Username != "" {
				title += " (@" + ch.Username + ")"
			}
			chat = Chat{ID: ch.ID, Kind: "private", Title: title}
		case "group", "supergroup":
			title := ch.Title
			if title == "" {
				title = "Group"
			}
			chat = Chat{ID: ch.ID, Kind: "group", Title: title}
		case "channel":
			title := ch.Title
			if title == "" {
				title = "Channel"
			}
			chat = Chat{ID: ch.ID, Kind: "channel", Title: title}
		default:
			continue
		}
		seen[ch.ID] = chat
	}

	chats := make([]Chat, 0, len(seen))
	for _, chat := range seen {
		chats = append(chats, chat)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	return chats, nil
}
