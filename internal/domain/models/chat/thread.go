package chat

import "time"

// Thread is a conversation thread. The title is derived from the first user
// query and only changes through explicit title edits.
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaxTitleLen is the number of query characters kept when deriving a title.
const MaxTitleLen = 100

// DeriveTitle builds a thread title from the first user query, truncating
// long queries with a trailing ellipsis.
func DeriveTitle(query string) string {
	runes := []rune(query)
	if len(runes) > MaxTitleLen {
		return string(runes[:MaxTitleLen]) + "..."
	}
	return query
}
