// Package events publishes post lifecycle events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/d60-Lab/microblog/internal/model"
)

const (
	TopicPostCreated = "post.created"
	TopicPostDeleted = "post.deleted"
)

// Publisher delivers an encoded event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}

type PostCreatedEvent struct {
	PostID    string `json:"post_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

type PostDeletedEvent struct {
	PostID    string `json:"post_id"`
	AuthorID  string `json:"author_id"`
	Timestamp string `json:"timestamp"`
}

func EncodePostCreated(post *model.Post) ([]byte, error) {
	return json.Marshal(PostCreatedEvent{
		PostID:    post.ID,
		AuthorID:  post.AuthorID,
		Body:      post.Body,
		Timestamp: post.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func EncodePostDeleted(post *model.Post, at time.Time) ([]byte, error) {
	return json.Marshal(PostDeletedEvent{
		PostID:    post.ID,
		AuthorID:  post.AuthorID,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
}
