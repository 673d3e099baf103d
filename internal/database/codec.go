package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

// SettingFilters holds the keyword filters as JSON.
const SettingFilters = "filters"

// snapshotRow is a snapshot as stored in both backends.
type snapshotRow struct {
	items    string
	cursor   string
	anchorID string
	offset   float64
	savedAt  sql.NullTime
}

// encodeSnapshot keeps only content rows; sentinels are derived state.
func encodeSnapshot(snap model.FeedSnapshot) (snapshotRow, error) {
	items := make([]model.ListItem, 0, len(snap.Items))
	for _, it := range snap.Items {
		if it.IsContent() {
			items = append(items, it)
		}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return snapshotRow{}, fmt.Errorf("encode snapshot %s: %w", snap.Feed.Key(), err)
	}
	return snapshotRow{
		items:    string(b),
		cursor:   snap.Cursor,
		anchorID: snap.Position.AnchorID,
		offset:   snap.Position.Offset,
		savedAt:  sql.NullTime{Time: snap.SavedAt.UTC(), Valid: !snap.SavedAt.IsZero()},
	}, nil
}

func (r snapshotRow) decode(feed model.FeedType) (*model.FeedSnapshot, error) {
	snap := &model.FeedSnapshot{
		Feed:     feed,
		Cursor:   r.cursor,
		Position: model.ScrollPosition{AnchorID: r.anchorID, Offset: r.offset},
	}
	if r.savedAt.Valid {
		snap.SavedAt = r.savedAt.Time
	}
	if err := json.Unmarshal([]byte(r.items), &snap.Items); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", feed.Key(), err)
	}
	return snap, nil
}

// menuEntry restores the title and url a feed key does not carry.
func menuEntry(key, title, url string) (model.FeedType, error) {
	ft, err := model.ParseFeedType(key)
	if err != nil {
		return model.FeedType{}, err
	}
	ft.Title = title
	ft.URL = url
	return ft, nil
}

// pollingInterval parses the setting, clamped to the minimum.
func pollingInterval(val string, err error) time.Duration {
	if err != nil {
		return model.DefaultPollingInterval
	}
	secs, convErr := strconv.Atoi(val)
	if convErr != nil {
		return model.DefaultPollingInterval
	}
	return max(time.Duration(secs)*time.Second, model.MinPollingInterval)
}

// formatSeconds renders a polling interval for the settings table.
func formatSeconds(d time.Duration) string {
	return strconv.Itoa(int(d / time.Second))
}

func showOriginalTimestamp(val string, err error) bool {
	if err != nil {
		return true
	}
	b, convErr := strconv.ParseBool(val)
	if convErr != nil {
		return true
	}
	return b
}

func decodeFilters(val string, err error) ([]normalize.Filter, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var filters []normalize.Filter
	if err := json.Unmarshal([]byte(val), &filters); err != nil {
		return nil, fmt.Errorf("decode filters: %w", err)
	}
	return filters, nil
}

func encodeFilters(filters []normalize.Filter) (string, error) {
	if filters == nil {
		filters = []normalize.Filter{}
	}
	b, err := json.Marshal(filters)
	if err != nil {
		return "", fmt.Errorf("encode filters: %w", err)
	}
	return string(b), nil
}
