package draft

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/DoyleJ11/anifight-draft/internal/score"
)

// SlotKey names one per-player slot: a role plus its occurrence index among
// equally named roles in the template.
type SlotKey struct {
	Role  string
	Index int
}

// String renders the wire form, e.g. "CAPTAIN-0".
func (k SlotKey) String() string {
	return k.Role + "-" + strconv.Itoa(k.Index)
}

func (k SlotKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *SlotKey) UnmarshalText(b []byte) error {
	parsed, err := ParseSlotKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseSlotKey splits on the last '-'. A bare role name is read as index 0.
func ParseSlotKey(s string) (SlotKey, error) {
	i := strings.LastIndex(s, "-")
	if i < 0 {
		if s == "" {
			return SlotKey{}, fmt.Errorf("%w: empty slot key", ErrUnknownSlot)
		}
		return SlotKey{Role: s}, nil
	}
	idx, err := strconv.Atoi(s[i+1:])
	if err != nil || idx < 0 || i == 0 {
		// role names may themselves contain dashes
		return SlotKey{Role: s}, nil
	}
	return SlotKey{Role: s[:i], Index: idx}, nil
}

// SlotsFor lists a template's slots in role order.
func SlotsFor(t score.Template) []SlotKey {
	seen := make(map[string]int, len(t.Roles))
	slots := make([]SlotKey, 0, len(t.Roles))
	for _, role := range t.Roles {
		slots = append(slots, SlotKey{Role: role, Index: seen[role]})
		seen[role]++
	}
	return slots
}
