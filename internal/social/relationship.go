package social

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/pacebot/internal/domain"
)

// Level is a discrete relationship tier.
type Level string

const (
	LevelOwner        Level = "owner"
	LevelCloseFriend  Level = "close_friend"
	LevelFriend       Level = "friend"
	LevelAcquaintance Level = "acquaintance"
	LevelStranger     Level = "stranger"
	LevelBlocked      Level = "blocked"
)

type levelInfo struct {
	multiplier float64
	priority   int
}

var levelTable = map[Level]levelInfo{
	LevelBlocked:      {multiplier: 0.0, priority: 0},
	LevelStranger:     {multiplier: 0.3, priority: 1},
	LevelAcquaintance: {multiplier: 0.5, priority: 2},
	LevelFriend:       {multiplier: 0.7, priority: 3},
	LevelCloseFriend:  {multiplier: 0.9, priority: 4},
	LevelOwner:        {multiplier: 1.0, priority: 5},
}

// upgradePath is the only order automatic upgrades may follow.
var upgradePath = []Level{LevelStranger, LevelAcquaintance, LevelFriend, LevelCloseFriend}

// Levels lists every relationship level, highest priority first.
func Levels() []Level {
	return []Level{LevelOwner, LevelCloseFriend, LevelFriend, LevelAcquaintance, LevelStranger, LevelBlocked}
}

func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: unknown relationship level %q", domain.ErrValidation, s)
	}
	return l, nil
}

func (l Level) Valid() bool {
	_, ok := levelTable[l]
	return ok
}

// DefaultMultiplier is the fixed response-probability multiplier for the level.
// Unknown levels get the stranger multiplier.
func (l Level) DefaultMultiplier() float64 {
	if info, ok := levelTable[l]; ok {
		return info.multiplier
	}
	return levelTable[LevelStranger].multiplier
}

func (l Level) Priority() int {
	if info, ok := levelTable[l]; ok {
		return info.priority
	}
	return levelTable[LevelStranger].priority
}

func (l Level) String() string {
	return string(l)
}

// Relationship wraps a validated Level.
type Relationship struct {
	level Level
}

func NewRelationship(level Level) (Relationship, error) {
	if !level.Valid() {
		return Relationship{}, fmt.Errorf("%w: unknown relationship level %q", domain.ErrValidation, level)
	}
	return Relationship{level: level}, nil
}

func (r Relationship) Level() Level {
	return r.level
}

func (r Relationship) ResponseMultiplier() float64 {
	return r.level.DefaultMultiplier()
}

// Next returns the next level on the automatic upgrade path.
func (r Relationship) Next() (Level, bool) {
	for i, l := range upgradePath {
		if l == r.level && i+1 < len(upgradePath) {
			return upgradePath[i+1], true
		}
	}
	return "", false
}

// CanUpgradeTo reports whether an automatic upgrade from r to target is allowed.
// Owner and blocked are terminal for automatic transitions and owner is never a target.
func (r Relationship) CanUpgradeTo(target Level) bool {
	if r.level == LevelOwner || r.level == LevelBlocked {
		return false
	}
	if target == LevelOwner || target == LevelBlocked {
		return false
	}
	next, ok := r.Next()
	return ok && next == target
}
