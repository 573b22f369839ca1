package service

import (
	"context"

	"github.com/eludris/eludris/internal/models"
)

// CreateMessage validates a message and stamps it with its author. Messages
// are not persisted; the caller publishes the result as an event.
func (s *Service) CreateMessage(ctx context.Context, authorID uint64, create models.MessageCreate) (models.Message, error) {
	if err := validateMessage(&create, s.Conf); err != nil {
		return models.Message{}, err
	}
	// The author is fetched as a third party so presence scrubbing applies.
	author, err := s.GetUser(ctx, authorID, nil)
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{Author: author, MessageCreate: create}, nil
}
