package feed

import (
	"errors"

	"github.com/MarcoPoloResearchLab/feedsync/internal/posts"
)

var (
	// ErrPostNotFound indicates that the referenced post does not exist.
	ErrPostNotFound = errors.New("feed: post not found")
	// ErrInvalidPost indicates that a submitted post failed validation.
	ErrInvalidPost = errors.New("feed: invalid post")
	// ErrInvalidActor indicates that the acting user identifier is empty.
	ErrInvalidActor = errors.New("feed: invalid actor")
)

const maxIdentifierLength = 190

// Post models a post persisted by the feed service.
type Post struct {
	ID                    int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Author                string `gorm:"column:author;size:190;not null"`
	AuthorAvatar          string `gorm:"column:author_avatar;size:512;not null;default:''"`
	Content               string `gorm:"column:content;type:text;not null"`
	PublishedSeconds      int64  `gorm:"column:published_s;not null;index:idx_feed_posts_published"`
	Likes                 int64  `gorm:"column:likes;not null;default:0"`
	AttachmentURL         string `gorm:"column:attachment_url;size:512;not null;default:''"`
	AttachmentDescription string `gorm:"column:attachment_description;type:text;not null;default:''"`
	AttachmentType        string `gorm:"column:attachment_type;size:32;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "feed_posts"
}

// Like records that an actor likes a post.
type Like struct {
	PostID           int64  `gorm:"column:post_id;primaryKey"`
	ActorID          string `gorm:"column:actor_id;primaryKey;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Like) TableName() string {
	return "feed_post_likes"
}

func (p Post) toDto(likedByMe bool) posts.Post {
	dto := posts.Post{
		ID:           p.ID,
		Author:       p.Author,
		AuthorAvatar: p.AuthorAvatar,
		Content:      p.Content,
		Published:    p.PublishedSeconds,
		LikedByMe:    likedByMe,
		Likes:        p.Likes,
	}
	if p.AttachmentURL != "" {
		dto.Attachment = &posts.Attachment{
			URL:         p.AttachmentURL,
			Description: p.AttachmentDescription,
			Type:        posts.AttachmentType(p.AttachmentType),
		}
	}
	return dto
}

func (p *Post) applyContent(dto posts.Post) {
	p.Content = dto.Content
	p.AttachmentURL = ""
	p.AttachmentDescription = ""
	p.AttachmentType = ""
	if dto.Attachment != nil {
		p.AttachmentURL = dto.Attachment.URL
		p.AttachmentDescription = dto.Attachment.Description
		p.AttachmentType = string(dto.Attachment.Type)
	}
}
