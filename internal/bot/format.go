package bot

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"mediarelay/internal/model"
)

// sourceLabel renders a source for humans: r/<name> or the feed URL.
func sourceLabel(src model.Source) string {
	if src.IsFeed() {
		return src.Name()
	}
	return "r/" + src.Name()
}

func sourceLabels(srcs []model.Source) []string {
	if len(srcs) == 0 {
		return []string{"none"}
	}
	return lo.Map(srcs, func(s model.Source, _ int) string { return sourceLabel(s) })
}

// statsLabel renders a stats key, which is the source name without prefix.
func statsLabel(key string) string {
	if strings.Contains(key, "://") {
		return key
	}
	return "r/" + key
}

// FormatSources formats the monitored source list.
func FormatSources(srcs []model.Source) string {
	if len(srcs) == 0 {
		return "No sources are monitored."
	}
	var b strings.Builder
	b.WriteString("Monitored sources:\n")
	for i, s := range srcs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, sourceLabel(s))
	}
	return b.String()
}

// FormatStats formats the delivery counters.
func FormatStats(s model.Stats, srcs []model.Source) string {
	var b strings.Builder
	b.WriteString("Statistics\n\n")
	fmt.Fprintf(&b, "Images sent: %d\n", s.Images)
	fmt.Fprintf(&b, "Videos sent: %d\n", s.Videos)
	fmt.Fprintf(&b, "GIFs sent: %d\n", s.GIFs)
	fmt.Fprintf(&b, "Total media sent: %d\n", s.Total)
	fmt.Fprintf(&b, "Failed deliveries: %d\n", s.Failed)
	fmt.Fprintf(&b, "\nMonitored: %s", strings.Join(sourceLabels(srcs), ", "))
	return b.String()
}

// FormatStatus formats the relay loop status.
func FormatStatus(st Status, subscribers, sources int, now time.Time) string {
	var b strings.Builder
	b.WriteString("Relay status\n\n")
	if st.LastCycle.IsZero() {
		b.WriteString("Last cycle: not yet run\n")
	} else {
		fmt.Fprintf(&b, "Last cycle: %s ago (took %s)\n",
			now.Sub(st.LastCycle).Round(time.Second), st.LastCycleDuration.Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "Subscribers: %d\n", subscribers)
	fmt.Fprintf(&b, "Sources: %d\n", sources)
	fmt.Fprintf(&b, "Items seen: %d\n", st.SeenCount)
	fmt.Fprintf(&b, "Retry queue: %d\n", st.QueueLen)
	return b.String()
}

// FormatReport formats the daily operator report. Timeline events from the
// 24 hours before now are listed per source.
func FormatReport(s model.Stats, subscribers, queueLen int, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily report (%s)\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "Total media sent: %d\n", s.Total)
	fmt.Fprintf(&b, "Images: %d\n", s.Images)
	fmt.Fprintf(&b, "Videos: %d\n", s.Videos)
	fmt.Fprintf(&b, "GIFs: %d\n", s.GIFs)
	fmt.Fprintf(&b, "Failed deliveries: %d\n", s.Failed)
	fmt.Fprintf(&b, "Subscribers: %d\n", subscribers)
	fmt.Fprintf(&b, "Retry queue: %d\n", queueLen)

	keys := slices.Sorted(maps.Keys(s.PerSource))
	if len(keys) > 0 {
		b.WriteString("\nPer source:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %d posts sent\n", statsLabel(k), s.PerSource[k])
		}
	}

	since := now.Add(-24 * time.Hour)
	var recent []string
	for _, k := range slices.Sorted(maps.Keys(s.Timeline)) {
		events := lo.Filter(s.Timeline[k], func(e model.Event, _ int) bool {
			return e.Time.After(since) && !e.Time.After(now)
		})
		if len(events) == 0 {
			continue
		}
		slices.SortFunc(events, func(a, b model.Event) int { return a.Time.Compare(b.Time) })
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s:\n", statsLabel(k))
		for _, e := range events {
			fmt.Fprintf(&sb, "  %s %s %s\n", e.Time.Format("15:04"), e.Kind, e.Title)
		}
		recent = append(recent, sb.String())
	}
	if len(recent) > 0 {
		b.WriteString("\nLast 24 hours:\n")
		b.WriteString(strings.Join(recent, ""))
	}
	return strings.TrimRight(b.String(), "\n")
}

