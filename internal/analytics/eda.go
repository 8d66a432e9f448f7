package analytics

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/mailsift/mailsift/internal/categorize"
)

var dowLabels = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

var emailDomainRe = regexp.MustCompile(`@([\w.\-]+)`)

// DayCount is one weekday's email volume.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// HourCount is one hour-of-day's email volume.
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// CategoryStat is one category's read/starred/attachment breakdown.
type CategoryStat struct {
	Category        string  `json:"category"`
	Count           int     `json:"count"`
	Unread          int     `json:"unread"`
	Starred         int     `json:"starred"`
	WithAttachments int     `json:"with_attachments"`
	UnreadPct       float64 `json:"unread_pct"`
}

// TopSender is one high-volume sender with its unread backlog.
type TopSender struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
	Unread int    `json:"unread"`
}

// DomainCount is one sender domain's email volume.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// EDATotals are corpus-wide ratios for the totals strip.
type EDATotals struct {
	UniqueSenders  int     `json:"unique_senders"`
	ReadRate       float64 `json:"read_rate"`
	AttachmentRate float64 `json:"attachment_rate"`
	StarredRate    float64 `json:"starred_rate"`
}

// EDA is the exploratory-analysis payload: arrival histograms, category
// breakdowns, sender and domain concentrations, and a 12-month category
// trend over the six largest categories.
type EDA struct {
	DayOfWeek          []DayCount       `json:"day_of_week"`
	HourOfDay          []HourCount      `json:"hour_of_day"`
	Heatmap            [][]int          `json:"heatmap"`
	CategoryStats      []CategoryStat   `json:"category_stats"`
	TopSenders         []TopSender      `json:"top_senders"`
	DomainDistribution []DomainCount    `json:"domain_distribution"`
	MonthlyByCategory  []map[string]any `json:"monthly_by_category"`
	CategoryTrendKeys  []string         `json:"category_trend_keys"`
	Totals             EDATotals        `json:"totals"`
}

// EDA computes every histogram in one pass. Arrival times keep the Date
// header's own zone. The date histograms count all mail; the category,
// sender, and ratio sections skip Noise.
func (a *Analyzer) EDA(ctx context.Context) (*EDA, error) {
	emails, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var dow [7]int
	var hours [24]int
	var heat [7][24]int
	catStats := make(map[string]*CategoryStat)
	monthCats := make(map[string]map[string]int)
	senderVol := make(map[string]int)
	senderUnread := make(map[string]int)
	domains := make(map[string]int)
	totalRead, totalStarred, totalAttachments := 0, 0, 0

	for _, e := range emails {
		if t, ok := parseDateISO(e.DateISO); ok {
			wd := (int(t.Weekday()) + 6) % 7
			dow[wd]++
			hours[t.Hour()]++
			heat[wd][t.Hour()]++

			month := t.Format("2006-01")
			if monthCats[month] == nil {
				monthCats[month] = make(map[string]int)
			}
			monthCats[month][category(e)]++
		}

		cat := category(e)
		if cat == categorize.Noise {
			continue
		}

		cs := catStats[cat]
		if cs == nil {
			cs = &CategoryStat{Category: cat}
			catStats[cat] = cs
		}
		cs.Count++
		if e.IsRead {
			totalRead++
		} else {
			cs.Unread++
		}
		if e.IsStarred {
			cs.Starred++
			totalStarred++
		}
		if e.HasAttachments {
			cs.WithAttachments++
			totalAttachments++
		}

		if e.Sender != "" {
			senderVol[e.Sender]++
			if !e.IsRead {
				senderUnread[e.Sender]++
			}
			if m := emailDomainRe.FindStringSubmatch(e.Sender); m != nil {
				domains[strings.ToLower(m[1])]++
			}
		}
	}

	result := &EDA{}
	for i := 0; i < 7; i++ {
		result.DayOfWeek = append(result.DayOfWeek, DayCount{Day: dowLabels[i], Count: dow[i]})
	}
	for i := 0; i < 24; i++ {
		result.HourOfDay = append(result.HourOfDay, HourCount{Hour: i, Count: hours[i]})
	}
	result.Heatmap = make([][]int, 7)
	for i := range heat {
		result.Heatmap[i] = append([]int(nil), heat[i][:]...)
	}

	for _, cs := range catStats {
		if cs.Count > 0 {
			cs.UnreadPct = round1(float64(cs.Unread) / float64(cs.Count) * 100)
		}
		result.CategoryStats = append(result.CategoryStats, *cs)
	}
	sort.Slice(result.CategoryStats, func(i, j int) bool {
		if result.CategoryStats[i].Count != result.CategoryStats[j].Count {
			return result.CategoryStats[i].Count > result.CategoryStats[j].Count
		}
		return result.CategoryStats[i].Category < result.CategoryStats[j].Category
	})

	for _, sender := range topKeys(senderVol, 15) {
		result.TopSenders = append(result.TopSenders, TopSender{
			Sender: sender,
			Count:  senderVol[sender],
			Unread: senderUnread[sender],
		})
	}
	for _, domain := range topKeys(domains, 15) {
		result.DomainDistribution = append(result.DomainDistribution, DomainCount{Domain: domain, Count: domains[domain]})
	}

	// Trend: last 12 months over the six largest categories.
	months := make([]string, 0, len(monthCats))
	for m := range monthCats {
		months = append(months, m)
	}
	sort.Strings(months)
	if len(months) > 12 {
		months = months[len(months)-12:]
	}
	catTotals := make(map[string]int, len(catStats))
	for cat, cs := range catStats {
		catTotals[cat] = cs.Count
	}
	result.CategoryTrendKeys = topKeys(catTotals, 6)
	result.MonthlyByCategory = make([]map[string]any, 0, len(months))
	for _, m := range months {
		row := map[string]any{"period": m}
		for _, cat := range result.CategoryTrendKeys {
			row[cat] = monthCats[m][cat]
		}
		result.MonthlyByCategory = append(result.MonthlyByCategory, row)
	}

	total := len(emails)
	result.Totals = EDATotals{UniqueSenders: len(senderVol)}
	if total > 0 {
		result.Totals.ReadRate = round1(float64(totalRead) / float64(total) * 100)
		result.Totals.AttachmentRate = round1(float64(totalAttachments) / float64(total) * 100)
		result.Totals.StarredRate = round1(float64(totalStarred) / float64(total) * 100)
	}
	return result, nil
}

// topKeys returns the n largest keys of a tally, count descending with
// alphabetical tie-break.
func topKeys(tally map[string]int, n int) []string {
	keys := make([]string, 0, len(tally))
	for k := range tally {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if tally[keys[i]] != tally[keys[j]] {
			return tally[keys[i]] > tally[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
