package models

import (
	"sort"
	"time"
)

// Slot is one bookable time interval on one court. StartTime/EndTime form a
// half-open interval in HH:MM.
type Slot struct {
	ID           string     `json:"slot_id"`
	VendorID     string     `json:"vendor_id"`
	ResourceID   string     `json:"resource_id"`
	ResourceName string     `json:"resource_name"`
	ServiceID    string     `json:"service_id"`
	Date         string     `json:"date"` // YYYY-MM-DD
	StartTime    string     `json:"start_time"`
	EndTime      string     `json:"end_time"`
	Price        int64      `json:"price"`
	Status       SlotStatus `json:"status"`
}

// ResourceGroup is a court plus its ordered slots for one date. It is a pure
// view over an availability fetch and is recomputed every time.
type ResourceGroup struct {
	ResourceID     string `json:"resource_id"`
	ResourceName   string `json:"resource_name"`
	Slots          []Slot `json:"slots"`
	AvailableCount int    `json:"available_count"`
}

// GroupSlots partitions slots by resource, stamps each slot with the requested
// date, and orders groups by resource ID and slots within a group by start
// time. Every input slot lands in exactly one group.
func GroupSlots(date string, slots []Slot) []ResourceGroup {
	byResource := make(map[string]*ResourceGroup)

	for _, slot := range slots {
		slot.Date = date
		group, ok := byResource[slot.ResourceID]
		if !ok {
			group = &ResourceGroup{
				ResourceID:   slot.ResourceID,
				ResourceName: slot.ResourceName,
			}
			byResource[slot.ResourceID] = group
		}
		group.Slots = append(group.Slots, slot)
		if slot.Status == SlotAvailable {
			group.AvailableCount++
		}
	}

	groups := make([]ResourceGroup, 0, len(byResource))
	for _, group := range byResource {
		sort.SliceStable(group.Slots, func(i, j int) bool {
			return group.Slots[i].StartTime < group.Slots[j].StartTime
		})
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].ResourceID < groups[j].ResourceID
	})
	return groups
}

// FindSlot returns the slot with the given ID from a set of groups, or nil.
func FindSlot(groups []ResourceGroup, slotID string) *Slot {
	for gi := range groups {
		for si := range groups[gi].Slots {
			if groups[gi].Slots[si].ID == slotID {
				return &groups[gi].Slots[si]
			}
		}
	}
	return nil
}

// ValidDate reports whether raw is a real calendar date in YYYY-MM-DD.
func ValidDate(raw string) bool {
	_, err := time.Parse("2006-01-02", raw)
	return err == nil
}
