package dispatch

import "context"

// CommsQueue is the outbound communication queue (email, sms).
type CommsQueue interface {
	RetryFailed(ctx context.Context, siteID *int64, limit int) (int, error)
	PurgeOlderThan(ctx context.Context, siteID *int64, days int) (int, error)
}

// CallbackEvents stores inbound provider callbacks.
type CallbackEvents interface {
	PurgeOlderThan(ctx context.Context, siteID *int64, days int) (int, error)
}

type WebhookDeliveries interface {
	RetryFailed(ctx context.Context, siteID *int64, limit int) (int, error)
}

// ContentPublisher flips the published state of a content item.
type ContentPublisher interface {
	SetPublished(ctx context.Context, siteID *int64, postID int64, published bool) error
}

type Settings interface {
	GetBool(ctx context.Context, key string, def bool) (bool, error)
}
