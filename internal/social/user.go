package social

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stellarlinkco/pacebot/internal/domain"
)

const (
	DefaultMinInteractions = 10
	DefaultMinPositiveRate = 0.8
	DefaultMinTrust        = 0.6
)

// UpgradeRules are the eligibility thresholds for an automatic relationship upgrade.
type UpgradeRules struct {
	MinInteractions int     `json:"minInteractions"`
	MinPositiveRate float64 `json:"minPositiveRate"`
	MinTrust        float64 `json:"minTrust"`
}

func DefaultUpgradeRules() UpgradeRules {
	return UpgradeRules{
		MinInteractions: DefaultMinInteractions,
		MinPositiveRate: DefaultMinPositiveRate,
		MinTrust:        DefaultMinTrust,
	}
}

func (r UpgradeRules) Validate() error {
	if r.MinInteractions < 0 {
		return fmt.Errorf("%w: relationship_upgrade.minInteractions must be >= 0", domain.ErrValidation)
	}
	if r.MinPositiveRate < 0 || r.MinPositiveRate > 1 {
		return fmt.Errorf("%w: relationship_upgrade.minPositiveRate %v outside [0,1]", domain.ErrValidation, r.MinPositiveRate)
	}
	if r.MinTrust < 0 || r.MinTrust > 1 {
		return fmt.Errorf("%w: relationship_upgrade.minTrust %v outside [0,1]", domain.ErrValidation, r.MinTrust)
	}
	return nil
}

// UserState is the per-user aggregate. Mutate it only through a Registry so
// concurrent messages from the same user do not lose updates.
type UserState struct {
	UserID               int64
	Username             string
	DisplayName          string
	Relationship         Level
	Trust                TrustScore
	InteractionCount     int
	PositiveInteractions int
	NegativeInteractions int
	DetectedTopics       map[string]struct{}
	PreferredPersona     string
	BlockReason          string
	FirstInteraction     time.Time
	LastInteraction      time.Time
}

func NewUserState(userID int64, username, displayName string) *UserState {
	return &UserState{
		UserID:         userID,
		Username:       username,
		DisplayName:    displayName,
		Relationship:   LevelStranger,
		Trust:          TrustScore{value: DefaultTrust},
		DetectedTopics: make(map[string]struct{}),
	}
}

// RelationshipValue returns the validated relationship. An unknown stored
// level degrades to stranger.
func (u *UserState) RelationshipValue() Relationship {
	r, err := NewRelationship(u.Relationship)
	if err != nil {
		return Relationship{level: LevelStranger}
	}
	return r
}

func (u *UserState) RecordInteraction(isPositive bool, at time.Time) {
	u.InteractionCount++
	if isPositive {
		u.PositiveInteractions++
	} else {
		u.NegativeInteractions++
	}
	if u.FirstInteraction.IsZero() {
		u.FirstInteraction = at
	}
	u.LastInteraction = at
}

func (u *UserState) AdjustTrust(delta float64) {
	u.Trust = u.Trust.Adjust(delta)
}

// PositiveRate is positive/total, 0 with no interactions.
func (u *UserState) PositiveRate() float64 {
	if u.InteractionCount == 0 {
		return 0
	}
	return float64(u.PositiveInteractions) / float64(u.InteractionCount)
}

// TryUpgradeRelationship moves the user one step up the automatic path when
// every threshold is met. Owner and blocked never change here.
func (u *UserState) TryUpgradeRelationship(rules UpgradeRules) bool {
	minInteractions := rules.MinInteractions
	if minInteractions < DefaultMinInteractions {
		minInteractions = DefaultMinInteractions
	}
	if u.InteractionCount < minInteractions {
		return false
	}
	if u.PositiveRate() < rules.MinPositiveRate {
		return false
	}
	if u.Trust.Value() < rules.MinTrust {
		return false
	}
	rel := u.RelationshipValue()
	next, ok := rel.Next()
	if !ok || !rel.CanUpgradeTo(next) {
		return false
	}
	u.Relationship = next
	return true
}

// Block is a manual override and always succeeds.
func (u *UserState) Block(reason string) {
	u.Relationship = LevelBlocked
	u.Trust = TrustScore{value: MinTrust}
	u.BlockReason = strings.TrimSpace(reason)
}

func (u *UserState) Unblock() error {
	if u.Relationship != LevelBlocked {
		return fmt.Errorf("%w: unblock user %d: relationship is %s, not blocked", domain.ErrInvalidOperation, u.UserID, u.Relationship)
	}
	u.Relationship = LevelStranger
	u.Trust = TrustScore{value: DefaultTrust}
	u.BlockReason = ""
	return nil
}

func (u *UserState) PromoteToOwner() {
	u.Relationship = LevelOwner
	u.Trust = TrustScore{value: MaxTrust}
	u.BlockReason = ""
}

// SetRelationship is the generic manual setter. It cannot grant or revoke owner;
// use PromoteToOwner for that. Setting blocked goes through Block.
func (u *UserState) SetRelationship(level Level) error {
	if !level.Valid() {
		return fmt.Errorf("%w: unknown relationship level %q", domain.ErrValidation, level)
	}
	if level == LevelOwner {
		return fmt.Errorf("%w: owner can only be granted via promote", domain.ErrInvalidOperation)
	}
	if u.Relationship == LevelOwner {
		return fmt.Errorf("%w: user %d is owner and cannot be changed to %s", domain.ErrInvalidOperation, u.UserID, level)
	}
	if level == LevelBlocked {
		u.Block("manual")
		return nil
	}
	if u.Relationship == LevelBlocked {
		return fmt.Errorf("%w: user %d is blocked; unblock first", domain.ErrInvalidOperation, u.UserID)
	}
	u.Relationship = level
	return nil
}

func (u *UserState) AddTopics(topics ...string) {
	if u.DetectedTopics == nil {
		u.DetectedTopics = make(map[string]struct{})
	}
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		u.DetectedTopics[t] = struct{}{}
	}
}

func (u *UserState) Topics() []string {
	out := make([]string, 0, len(u.DetectedTopics))
	for t := range u.DetectedTopics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy suitable as an immutable snapshot.
func (u *UserState) Clone() UserState {
	c := *u
	c.DetectedTopics = make(map[string]struct{}, len(u.DetectedTopics))
	for t := range u.DetectedTopics {
		c.DetectedTopics[t] = struct{}{}
	}
	return c
}

// DisplayLabel is the best human-readable name for logs.
func (u *UserState) DisplayLabel() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.DisplayName != "":
		return u.DisplayName
	default:
		return fmt.Sprintf("user:%d", u.UserID)
	}
}
