package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Post представляет пост в ленте.
type Post struct {
	ID        string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	AuthorID  string     `json:"userId" gorm:"column:user_id;type:varchar(255);not null;index"`
	Text      string     `json:"text" gorm:"type:text;not null"`
	CreatedAt time.Time  `json:"createdAt" gorm:"not null;index"`
	Comments  []*Comment `json:"-" gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE"` // gorm only
}

// Comment представляет комментарий к посту ("kindword").
// Ответ (reply) - это Comment с ParentID, указывающим на комментарий верхнего уровня того же поста.
type Comment struct {
	ID            string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	PostID        string     `json:"postId" gorm:"type:varchar(36);not null;index"`
	ParentID      *string    `json:"parentId,omitempty" gorm:"type:varchar(36);index"`
	AuthorID      string     `json:"userId" gorm:"column:user_id;type:varchar(255);not null"`
	Text          string     `json:"text" gorm:"type:text;not null"`
	ToxicityScore float64    `json:"toxicityScore" gorm:"not null;default:0"`
	CreatedAt     time.Time  `json:"createdAt" gorm:"not null;index"`
	Children      []*Comment `json:"-" gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE"` // gorm only
}

// IsReply сообщает, является ли комментарий ответом на другой комментарий.
func (c *Comment) IsReply() bool {
	return c.ParentID != nil
}

// BeforeCreate назначает UUID, если хранилище не сделало этого раньше.
func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
