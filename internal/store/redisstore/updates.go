package redisstore

import (
	"context"
)

func chatChannel(chatID string) string {
	return "chat_updates:" + chatID
}

// PublishChatUpdate wakes watchers of a chat. The payload carries no content;
// watchers re-read the ledger.
func (s *Store) PublishChatUpdate(ctx context.Context, chatID string) error {
	return s.Client.Publish(ctx, chatChannel(chatID), "1").Err()
}

// SubscribeChatUpdates returns a channel that receives one value per update
// (coalesced) until ctx is done or the returned close func is called.
func (s *Store) SubscribeChatUpdates(ctx context.Context, chatID string) (<-chan struct{}, func() error, error) {
	sub := s.Client.Subscribe(ctx, chatChannel(chatID))
	// wait for the subscription confirmation so no publish is missed afterwards
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, sub.Close, nil
}
