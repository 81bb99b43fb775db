// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bureau-foundation/helpdesk/lib/ref"
)

func TestDedupCache(t *testing.T) {
	t.Run("rejects redelivery", func(t *testing.T) {
		cache := newDedupCache(10)
		eventID := ref.MustParseEventID("$event1")

		if cache.Seen(eventID) {
			t.Error("first delivery should not be seen")
		}
		if !cache.Seen(eventID) {
			t.Error("second delivery should be seen")
		}
	})

	t.Run("never grows past capacity", func(t *testing.T) {
		cache := newDedupCache(5)
		for i := 0; i < 20; i++ {
			cache.Seen(ref.MustParseEventID(fmt.Sprintf("$event%d", i)))
		}
		if cache.Len() != 5 {
			t.Errorf("cache length = %d, want 5", cache.Len())
		}
	})

	t.Run("evicted entries are treated as new", func(t *testing.T) {
		cache := newDedupCache(2)
		first := ref.MustParseEventID("$first")
		cache.Seen(first)
		cache.Seen(ref.MustParseEventID("$second"))
		cache.Seen(ref.MustParseEventID("$third"))

		if cache.Seen(first) {
			t.Error("evicted event should no longer be seen")
		}
	})
}

func TestEntityCache(t *testing.T) {
	t.Run("loads once", func(t *testing.T) {
		cache := newEntityCache[string](10)
		loads := 0
		load := func() (string, error) {
			loads++
			return "value", nil
		}

		for i := 0; i < 3; i++ {
			value, err := cache.GetOrLoad(1, load)
			if err != nil {
				t.Fatalf("GetOrLoad failed: %v", err)
			}
			if value != "value" {
				t.Errorf("value = %q", value)
			}
		}
		if loads != 1 {
			t.Errorf("load called %d times, want 1", loads)
		}
	})

	t.Run("errors are not cached", func(t *testing.T) {
		cache := newEntityCache[string](10)
		loadError := errors.New("load failed")
		if _, err := cache.GetOrLoad(1, func() (string, error) { return "", loadError }); !errors.Is(err, loadError) {
			t.Fatalf("expected load error, got: %v", err)
		}
		value, err := cache.GetOrLoad(1, func() (string, error) { return "recovered", nil })
		if err != nil || value != "recovered" {
			t.Errorf("GetOrLoad after error = (%q, %v)", value, err)
		}
	})

	t.Run("invalidate forces reload", func(t *testing.T) {
		cache := newEntityCache[int](10)
		loads := 0
		load := func() (int, error) {
			loads++
			return loads, nil
		}
		cache.GetOrLoad(7, load)
		cache.Invalidate(7)
		value, _ := cache.GetOrLoad(7, load)
		if value != 2 {
			t.Errorf("value after invalidate = %d, want 2", value)
		}
	})

	t.Run("bounded", func(t *testing.T) {
		cache := newEntityCache[int](3)
		for i := int64(1); i <= 10; i++ {
			cache.GetOrLoad(i, func() (int, error) { return int(i), nil })
		}
		if len(cache.entries) != 3 {
			t.Errorf("cache holds %d entries, want 3", len(cache.entries))
		}
	})
}
