package feed

import "time"

// Entry is one element of a feed index. Entries are ordered by PublishedAt
// and then PostID; feeds are read in descending order.
type Entry struct {
	PublishedAt time.Time
	PostID      int64
}

// NewEntry normalises t to UTC milliseconds, the precision kept by every store.
func NewEntry(t time.Time, postID int64) Entry {
	return Entry{PublishedAt: t.UTC().Truncate(time.Millisecond), PostID: postID}
}

// Less reports whether e sorts before o (e is older).
func (e Entry) Less(o Entry) bool {
	if !e.PublishedAt.Equal(o.PublishedAt) {
		return e.PublishedAt.Before(o.PublishedAt)
	}
	return e.PostID < o.PostID
}

// Equal compares both parts of the order key.
func (e Entry) Equal(o Entry) bool {
	return e.PostID == o.PostID && e.PublishedAt.Equal(o.PublishedAt)
}

// CachedPost is the cached snapshot of a post.
type CachedPost struct {
	ID           int64     `json:"id"`
	AuthorID     int64     `json:"author_id"`
	Content      string    `json:"content"`
	PublishedAt  time.Time `json:"published_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LikeCount    int64     `json:"like_count"`
	CommentCount int64     `json:"comment_count"`
	ViewCount    int64     `json:"view_count"`
}

// Entry returns the index key of the post.
func (p CachedPost) Entry() Entry { return NewEntry(p.PublishedAt, p.ID) }

// CachedUser is the cached snapshot of a user and the accounts they follow.
type CachedUser struct {
	ID            int64   `json:"id"`
	Username      string  `json:"username"`
	PictureFileID string  `json:"picture_file_id"`
	FolloweeIDs   []int64 `json:"followee_ids"`
}

// Item is one assembled feed element: a post plus its author's display fields.
type Item struct {
	PostID        int64     `json:"post_id"`
	AuthorID      int64     `json:"author_id"`
	Username      string    `json:"username"`
	PictureFileID string    `json:"picture_file_id"`
	Content       string    `json:"content"`
	LikeCount     int64     `json:"like_count"`
	CommentCount  int64     `json:"comment_count"`
	ViewCount     int64     `json:"view_count"`
	PublishedAt   time.Time `json:"published_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Page is one page of a feed. NextCursor is the last item's post id, nil on an empty page.
type Page struct {
	Items      []Item `json:"items"`
	NextCursor *int64 `json:"next_cursor"`
}

func newPage(items []Item) *Page {
	p := &Page{Items: items}
	if len(items) > 0 {
		last := items[len(items)-1].PostID
		p.NextCursor = &last
	}
	return p
}

func buildItem(u CachedUser, p CachedPost) Item {
	return Item{
		PostID:        p.ID,
		AuthorID:      u.ID,
		Username:      u.Username,
		PictureFileID: u.PictureFileID,
		Content:       p.Content,
		LikeCount:     p.LikeCount,
		CommentCount:  p.CommentCount,
		ViewCount:     p.ViewCount,
		PublishedAt:   p.PublishedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
