// Package analytics aggregates the dashboard figures from the record store.
package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/supercopa/totem/internal/catalog"
	"github.com/supercopa/totem/internal/logging"
	"github.com/supercopa/totem/internal/records"
)

// HourlyWindow is the span covered by the hourly histogram.
const HourlyWindow = 24 * time.Hour

// Reader is the read side of records.Store.
type Reader interface {
	ListSessions(ctx context.Context, since time.Time) ([]records.Session, error)
	ListGeneratedImages(ctx context.Context) ([]records.GeneratedImage, error)
	ListShares(ctx context.Context) ([]records.Share, error)
}

type Stats struct {
	TotalSessions     int     `json:"totalSessions"`
	CompletedSessions int     `json:"completedSessions"`
	CompletionRate    float64 `json:"completionRate"`
	TotalImages       int     `json:"totalImages"`
	TotalShares       int     `json:"totalShares"`
	SuccessfulShares  int     `json:"successfulShares"`
}

type TeamStats struct {
	TeamID     string  `json:"teamId"`
	TeamName   string  `json:"teamName"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
	Color      string  `json:"color"`
}

type IdolStats struct {
	IdolID       string  `json:"idolId"`
	IdolName     string  `json:"idolName"`
	IdolNickname string  `json:"idolNickname"`
	TeamID       string  `json:"teamId"`
	Count        int     `json:"count"`
	Percentage   float64 `json:"percentage"`
}

type HourlyStats struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type WhatsAppStats struct {
	Pending     int     `json:"pending"`
	Sent        int     `json:"sent"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

type PerformanceStats struct {
	AvgGenerationTime int64   `json:"avgGenerationTime"`
	MinGenerationTime int64   `json:"minGenerationTime"`
	MaxGenerationTime int64   `json:"maxGenerationTime"`
	SuccessRate       float64 `json:"successRate"`
	TotalGenerated    int     `json:"totalGenerated"`
}

// Dashboard is everything the dashboard page renders.
type Dashboard struct {
	Stats       Stats            `json:"stats"`
	Teams       []TeamStats      `json:"teams"`
	Idols       []IdolStats      `json:"idols"`
	Hourly      []HourlyStats    `json:"hourly"`
	WhatsApp    WhatsAppStats    `json:"whatsapp"`
	Performance PerformanceStats `json:"performance"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// Service computes dashboards. Read failures are logged and the affected
// sections fall back to their zero values.
type Service struct {
	reader  Reader
	catalog *catalog.Catalog
	logger  *logging.Logger
	now     func() time.Time
	loc     *time.Location
}

func NewService(reader Reader, cat *catalog.Catalog, logger *logging.Logger) *Service {
	return &Service{
		reader:  reader,
		catalog: cat,
		logger:  logger,
		now:     time.Now,
		loc:     time.Local,
	}
}

// Dashboard reads the record store concurrently and aggregates every section.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	now := s.now()

	var (
		sessions, recent     []records.Session
		images               []records.GeneratedImage
		shares               []records.Share
		sessErr, recentErr   error
		imagesErr, sharesErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessions, sessErr = s.reader.ListSessions(gctx, time.Time{})
		return nil
	})
	g.Go(func() error {
		recent, recentErr = s.reader.ListSessions(gctx, now.Add(-HourlyWindow))
		return nil
	})
	g.Go(func() error {
		images, imagesErr = s.reader.ListGeneratedImages(gctx)
		return nil
	})
	g.Go(func() error {
		shares, sharesErr = s.reader.ListShares(gctx)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logReadError(ctx, "sessions", sessErr)
	s.logReadError(ctx, "recent_sessions", recentErr)
	s.logReadError(ctx, "generated_images", imagesErr)
	s.logReadError(ctx, "whatsapp_shares", sharesErr)

	d := &Dashboard{
		Teams:       []TeamStats{},
		Idols:       []IdolStats{},
		Hourly:      []HourlyStats{},
		Performance: ComputePerformance(nil),
		GeneratedAt: now.UTC(),
	}
	// Each count falls back to zero on its own.
	if sessErr != nil {
		sessions = nil
	}
	if imagesErr != nil {
		images = nil
	}
	if sharesErr != nil {
		shares = nil
	}
	d.Stats = ComputeStats(sessions, images, shares)
	if sessErr == nil {
		d.Teams = ComputeTeams(sessions, s.catalog)
		d.Idols = ComputeIdols(sessions, s.catalog)
	}
	if recentErr == nil {
		d.Hourly = ComputeHourly(recent, now, s.loc)
	}
	if sharesErr == nil {
		d.WhatsApp = ComputeWhatsApp(shares)
	}
	if imagesErr == nil {
		d.Performance = ComputePerformance(images)
	}
	return d, nil
}

func (s *Service) logReadError(ctx context.Context, table string, err error) {
	if err == nil {
		return
	}
	s.logger.WithContext(ctx).WithError(err).WithField("table", table).Warn("Dashboard read failed")
}

func ComputeStats(sessions []records.Session, images []records.GeneratedImage, shares []records.Share) Stats {
	st := Stats{
		TotalSessions: len(sessions),
		TotalImages:   len(images),
		TotalShares:   len(shares),
	}
	for _, sess := range sessions {
		if sess.Completed() {
			st.CompletedSessions++
		}
	}
	for _, sh := range shares {
		if sh.Status == records.ShareSent {
			st.SuccessfulShares++
		}
	}
	st.CompletionRate = percent(st.CompletedSessions, st.TotalSessions)
	return st
}

// ComputeTeams counts sessions with a team, most popular first.
func ComputeTeams(sessions []records.Session, cat *catalog.Catalog) []TeamStats {
	counts := map[string]int{}
	total := 0
	for _, sess := range sessions {
		if sess.TeamID == nil || *sess.TeamID == "" {
			continue
		}
		counts[*sess.TeamID]++
		total++
	}

	out := make([]TeamStats, 0, len(counts))
	for id, n := range counts {
		out = append(out, TeamStats{
			TeamID:     id,
			TeamName:   cat.TeamName(catalog.TeamID(id)),
			Count:      n,
			Percentage: percent(n, total),
			Color:      cat.TeamColor(catalog.TeamID(id)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].TeamID < out[j].TeamID
	})
	return out
}

// ComputeIdols counts sessions with an idol, most popular first.
func ComputeIdols(sessions []records.Session, cat *catalog.Catalog) []IdolStats {
	counts := map[string]int{}
	total := 0
	for _, sess := range sessions {
		if sess.IdolID == nil || *sess.IdolID == "" {
			continue
		}
		counts[*sess.IdolID]++
		total++
	}

	out := make([]IdolStats, 0, len(counts))
	for id, n := range counts {
		st := IdolStats{IdolID: id, IdolName: id, Count: n, Percentage: percent(n, total)}
		if idol, ok := cat.Idol(id); ok {
			st.IdolName = idol.Name
			st.IdolNickname = idol.Nickname
			st.TeamID = string(idol.TeamID)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IdolID < out[j].IdolID
	})
	return out
}

// ComputeHourly buckets the sessions of the last 24 hours by local hour.
func ComputeHourly(sessions []records.Session, now time.Time, loc *time.Location) []HourlyStats {
	out := make([]HourlyStats, 24)
	for h := range out {
		out[h].Hour = h
	}
	since := now.Add(-HourlyWindow)
	for _, sess := range sessions {
		if sess.CreatedAt.Before(since) {
			continue
		}
		out[sess.CreatedAt.In(loc).Hour()].Count++
	}
	return out
}

func ComputeWhatsApp(shares []records.Share) WhatsAppStats {
	var st WhatsAppStats
	for _, sh := range shares {
		switch sh.Status {
		case records.SharePending:
			st.Pending++
		case records.ShareSent:
			st.Sent++
		case records.ShareFailed:
			st.Failed++
		}
	}
	st.SuccessRate = percent(st.Sent, st.Pending+st.Sent+st.Failed)
	return st
}

// ComputePerformance summarises positive generation latencies. Only
// successful generations are recorded, so the success rate is always 100.
func ComputePerformance(images []records.GeneratedImage) PerformanceStats {
	st := PerformanceStats{SuccessRate: 100}
	var sum int64
	for _, img := range images {
		if img.GenerationTimeMS == nil || *img.GenerationTimeMS <= 0 {
			continue
		}
		ms := *img.GenerationTimeMS
		if st.TotalGenerated == 0 || ms < st.MinGenerationTime {
			st.MinGenerationTime = ms
		}
		if ms > st.MaxGenerationTime {
			st.MaxGenerationTime = ms
		}
		sum += ms
		st.TotalGenerated++
	}
	if st.TotalGenerated > 0 {
		st.AvgGenerationTime = int64(math.Round(float64(sum) / float64(st.TotalGenerated)))
	}
	return st
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
