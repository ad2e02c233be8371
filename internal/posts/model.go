package posts

import "math"

const (
	// InitialPendingID is the sentinel reported before any pending post is known.
	InitialPendingID int64 = math.MaxInt64 / 2
	// ReservedIDFloor is the lowest identifier in the locally reserved range.
	// Posts with ids at or above it have not been acknowledged by the server.
	ReservedIDFloor int64 = math.MaxInt64 / 4
)

// AttachmentType enumerates supported media attachments.
type AttachmentType string

const (
	// AttachmentTypeImage marks an image attachment.
	AttachmentTypeImage AttachmentType = "IMAGE"
)

// Attachment describes media attached to a post.
type Attachment struct {
	URL         string         `json:"url"`
	Description string         `json:"description,omitempty"`
	Type        AttachmentType `json:"type"`
}

// Post is the shape readers observe and the remote API exchanges.
type Post struct {
	ID           int64       `json:"id"`
	Author       string      `json:"author"`
	AuthorAvatar string      `json:"authorAvatar,omitempty"`
	Content      string      `json:"content"`
	Published    int64       `json:"published"`
	LikedByMe    bool        `json:"likedByMe"`
	Likes        int64       `json:"likes"`
	Attachment   *Attachment `json:"attachment,omitempty"`
}

// IsPending reports whether the post still carries a locally reserved id.
func (p Post) IsPending() bool {
	return IsPendingID(p.ID)
}

// IsPendingID reports whether id lies in the locally reserved range.
func IsPendingID(id int64) bool {
	return id >= ReservedIDFloor
}

// toggleLike returns a copy with the like flag flipped. The count moves according
// to the flag before the flip and never drops below zero.
func (p Post) toggleLike() Post {
	toggled := p
	if p.LikedByMe {
		toggled.Likes = max(p.Likes-1, 0)
	} else {
		toggled.Likes = p.Likes + 1
	}
	toggled.LikedByMe = !p.LikedByMe
	return toggled
}

// PostEntity models a post persisted in the local cache. Columns carry no
// defaults so upserts overwrite zero values.
type PostEntity struct {
	ID                    int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Author                string `gorm:"column:author;size:190;not null"`
	AuthorAvatar          string `gorm:"column:author_avatar;size:512;not null"`
	Content               string `gorm:"column:content;type:text;not null"`
	PublishedSeconds      int64  `gorm:"column:published_s;not null"`
	LikedByMe             bool   `gorm:"column:liked_by_me;not null"`
	Likes                 int64  `gorm:"column:likes;not null"`
	AttachmentURL         string `gorm:"column:attachment_url;size:512;not null"`
	AttachmentDescription string `gorm:"column:attachment_description;type:text;not null"`
	AttachmentType        string `gorm:"column:attachment_type;size:32;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PostEntity) TableName() string {
	return "posts"
}

// ToDto projects the stored entity into the public post shape.
func (e PostEntity) ToDto() Post {
	post := Post{
		ID:           e.ID,
		Author:       e.Author,
		AuthorAvatar: e.AuthorAvatar,
		Content:      e.Content,
		Published:    e.PublishedSeconds,
		LikedByMe:    e.LikedByMe,
		Likes:        e.Likes,
	}
	if e.AttachmentURL != "" {
		post.Attachment = &Attachment{
			URL:         e.AttachmentURL,
			Description: e.AttachmentDescription,
			Type:        AttachmentType(e.AttachmentType),
		}
	}
	return post
}

// FromDto converts a public post into its stored shape.
func FromDto(post Post) PostEntity {
	entity := PostEntity{
		ID:               post.ID,
		Author:           post.Author,
		AuthorAvatar:     post.AuthorAvatar,
		Content:          post.Content,
		PublishedSeconds: post.Published,
		LikedByMe:        post.LikedByMe,
		Likes:            post.Likes,
	}
	if post.Attachment != nil {
		entity.AttachmentURL = post.Attachment.URL
		entity.AttachmentDescription = post.Attachment.Description
		entity.AttachmentType = string(post.Attachment.Type)
	}
	return entity
}

// ToDtos projects entities in order.
func ToDtos(entities []PostEntity) []Post {
	result := make([]Post, 0, len(entities))
	for _, entity := range entities {
		result = append(result, entity.ToDto())
	}
	return result
}

// ToEntities converts posts in order.
func ToEntities(posts []Post) []PostEntity {
	result := make([]PostEntity, 0, len(posts))
	for _, post := range posts {
		result = append(result, FromDto(post))
	}
	return result
}
