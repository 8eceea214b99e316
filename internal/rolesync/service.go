// Package rolesync converges member roles with subscription state by
// enqueueing grant and revoke jobs.
package rolesync

import (
	"context"
	"time"

	"signalrelay/internal/constants"
	"signalrelay/internal/database"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/models"
	"signalrelay/internal/privacy"
	"signalrelay/internal/queue"

	"github.com/sirupsen/logrus"
)

// QueueName is the route and metrics name of the role-sync queue
const QueueName = "role-sync"

// RoleRef is one managed (guild, role) pair
type RoleRef struct {
	GuildID string `json:"guildId"`
	RoleID  string `json:"roleId"`
}

// RoleMapping resolves tiers to managed roles
type RoleMapping interface {
	// ManagedRoles is every pair under management regardless of status
	ManagedRoles() []RoleRef
	// RolesForTier returns the pairs mapped to a tier
	RolesForTier(tier string) []RoleRef
}

// Transition is a subscription status change for one linked user
type Transition struct {
	UserID        string                    `json:"userId"`
	DiscordUserID string                    `json:"discordUserId"`
	Tier          string                    `json:"tier"`
	Status        models.SubscriptionStatus `json:"status"`
	Source        string                    `json:"source"`
}

// FanOutResult counts the jobs produced for one transition
type FanOutResult struct {
	GrantsEnqueued  int    `json:"grantsEnqueued"`
	GrantsDeduped   int    `json:"grantsDeduped"`
	RevokesEnqueued int    `json:"revokesEnqueued"`
	RevokesDeduped  int    `json:"revokesDeduped"`
	Skipped         bool   `json:"skipped,omitempty"`
	SkipReason      string `json:"skipReason,omitempty"`
}

const SkipNoIdentityLink = "no_identity_link"

type adapter struct{}

func (adapter) Name() string  { return QueueName }
func (adapter) Table() string { return "role_sync_jobs" }

func (adapter) DedupeKey(p models.RoleSyncPayload) []string {
	return []string{p.UserID, p.DiscordUserID, p.GuildID, p.RoleID, string(p.Action)}
}

type Service struct {
	queue   *queue.Queue[models.RoleSyncPayload]
	mapping RoleMapping
	logger  *logrus.Logger
}

func NewService(db *database.Database, mapping RoleMapping, maxAttempts int, logger *logrus.Logger) (*Service, error) {
	q, err := queue.New[models.RoleSyncPayload](db, adapter{}, queue.Config[models.RoleSyncPayload]{
		MaxAttempts: maxAttempts,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Service{queue: q, mapping: mapping, logger: logger}, nil
}

// Queue exposes the underlying job queue for workers and maintenance
func (s *Service) Queue() *queue.Queue[models.RoleSyncPayload] {
	return s.queue
}

// Plan computes grant = desired and revoke = managed minus desired.
// desired is non-empty only for an active status whose tier maps to exactly
// one pair.
func Plan(mapping RoleMapping, tier string, status models.SubscriptionStatus) (grant, revoke []RoleRef) {
	var desired []RoleRef
	if status == models.SubscriptionActive {
		if roles := dedupeRoles(mapping.RolesForTier(tier)); len(roles) == 1 {
			desired = roles
		}
	}

	want := make(map[RoleRef]struct{}, len(desired))
	for _, r := range desired {
		want[r] = struct{}{}
	}
	for _, r := range dedupeRoles(mapping.ManagedRoles()) {
		if _, keep := want[r]; !keep {
			revoke = append(revoke, r)
		}
	}
	return desired, revoke
}

func dedupeRoles(roles []RoleRef) []RoleRef {
	seen := make(map[RoleRef]struct{}, len(roles))
	out := make([]RoleRef, 0, len(roles))
	for _, r := range roles {
		if r.GuildID == "" || r.RoleID == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// FanOut enqueues the jobs that converge a user's roles with tr. Repeating
// it for an unchanged state only produces dedupe hits.
func (s *Service) FanOut(ctx context.Context, tr Transition, now time.Time) (*FanOutResult, error) {
	if !tr.Status.Valid() {
		return nil, appErrors.NewValidationError("status", string(tr.Status), "unknown subscription status")
	}
	if tr.UserID == "" {
		return nil, appErrors.NewValidationError("user_id", "", "is required")
	}
	if tr.DiscordUserID == "" {
		return &FanOutResult{Skipped: true, SkipReason: SkipNoIdentityLink}, nil
	}

	grant, revoke := Plan(s.mapping, tr.Tier, tr.Status)
	result := &FanOutResult{}

	for _, r := range grant {
		deduped, err := s.enqueue(ctx, tr, r, models.RoleGrant, now)
		if err != nil {
			return result, err
		}
		if deduped {
			result.GrantsDeduped++
		} else {
			result.GrantsEnqueued++
		}
	}
	for _, r := range revoke {
		deduped, err := s.enqueue(ctx, tr, r, models.RoleRevoke, now)
		if err != nil {
			return result, err
		}
		if deduped {
			result.RevokesDeduped++
		} else {
			result.RevokesEnqueued++
		}
	}

	s.logger.WithFields(privacy.MaskFields(logrus.Fields{
		constants.LogFieldUserID:        tr.UserID,
		constants.LogFieldDiscordUserID: tr.DiscordUserID,
		"tier":                          tr.Tier,
		"status":                        tr.Status,
		"grants":                        len(grant),
		"revokes":                       len(revoke),
	})).Info("Role sync fan-out")
	return result, nil
}

func (s *Service) enqueue(ctx context.Context, tr Transition, r RoleRef, action models.RoleAction, now time.Time) (bool, error) {
	res, err := s.queue.Enqueue(ctx, models.RoleSyncPayload{
		UserID:        tr.UserID,
		DiscordUserID: tr.DiscordUserID,
		GuildID:       r.GuildID,
		RoleID:        r.RoleID,
		Action:        action,
		Source:        tr.Source,
	}, now)
	if err != nil {
		return false, err
	}
	return res.Deduped, nil
}
