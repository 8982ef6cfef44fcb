package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

// orgStore is the subset of Store used for organization resolution.
type orgStore interface {
	VerifyOrgNumber(ctx context.Context, orgID uuid.UUID, number string) (bool, error)
	OrgByRecentConversation(ctx context.Context, from string) (uuid.UUID, error)
	OrgByNumber(ctx context.Context, number string) (uuid.UUID, error)
}

// OrgResolver maps an inbound message to a tenant. Resolution tries, in
// order: an explicit org id verified against an active number, the org of the
// most recent conversation with the sender, and finally the first active
// phone-number record for the destination.
type OrgResolver struct {
	store    orgStore
	cache    redis.UniversalClient
	cacheTTL time.Duration
	logger   *logging.Logger
}

func NewOrgResolver(store orgStore, cache redis.UniversalClient, logger *logging.Logger) *OrgResolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &OrgResolver{
		store:    store,
		cache:    cache,
		cacheTTL: 5 * time.Minute,
		logger:   logger,
	}
}

// Resolve returns the organization for an inbound message. explicitOrgID is
// the optional org_id query parameter on the webhook URL.
func (r *OrgResolver) Resolve(ctx context.Context, explicitOrgID, from, to string) (uuid.UUID, error) {
	if explicitOrgID != "" {
		orgID, err := uuid.Parse(explicitOrgID)
		if err == nil {
			ok, err := r.store.VerifyOrgNumber(ctx, orgID, to)
			if err != nil {
				return uuid.Nil, err
			}
			if ok {
				return orgID, nil
			}
			r.logger.Warn("explicit org id not verified against destination number", "org_id", explicitOrgID, "to", to)
		} else {
			r.logger.Warn("malformed org_id query parameter", "org_id", explicitOrgID)
		}
	}

	if orgID, err := r.store.OrgByRecentConversation(ctx, from); err == nil {
		return orgID, nil
	} else if !errors.Is(err, ErrOrgNotFound) {
		return uuid.Nil, err
	}

	return r.orgByNumberCached(ctx, to)
}

// orgByNumberCached is a cache-aside wrapper around the active phone-number
// lookup; the destination number is the hot key on every inbound webhook.
func (r *OrgResolver) orgByNumberCached(ctx context.Context, number string) (uuid.UUID, error) {
	key := "org:number:" + number
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
			if orgID, parseErr := uuid.Parse(cached); parseErr == nil {
				return orgID, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			r.logger.Warn("org cache read failed", "error", err)
		}
	}
	orgID, err := r.store.OrgByNumber(ctx, number)
	if err != nil {
		return uuid.Nil, err
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, key, orgID.String(), r.cacheTTL).Err(); err != nil {
			r.logger.Warn("org cache write failed", "error", err)
		}
	}
	return orgID, nil
}
