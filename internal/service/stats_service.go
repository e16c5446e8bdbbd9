// internal/service/stats_service.go
package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ecellhub/email-engine/internal/repository"
)

const defaultPeriodDays = 30

// Wire shapes for GET /emails/stats. The "_id" group keys match the
// aggregation contract the dashboard was built against.
type StatsOverview struct {
	TotalEmailsSent  int     `json:"totalEmailsSent"`
	TotalRecipients  int     `json:"totalRecipients"`
	SuccessfulEmails int     `json:"successfulEmails"`
	FailedEmails     int     `json:"failedEmails"`
	SuccessRate      float64 `json:"successRate"`
}

type CampaignStat struct {
	Campaign        string `json:"_id"`
	Count           int    `json:"count"`
	TotalRecipients int    `json:"totalRecipients"`
	SuccessCount    int    `json:"successCount"`
}

type TemplateStat struct {
	TemplateID      int    `json:"_id"`
	TemplateName    string `json:"templateName"`
	Count           int    `json:"count"`
	TotalRecipients int    `json:"totalRecipients"`
	SuccessCount    int    `json:"successCount"`
}

type DailyStat struct {
	Date           string `json:"date"`
	EmailCount     int    `json:"emailCount"`
	RecipientCount int    `json:"recipientCount"`
	SuccessCount   int    `json:"successCount"`
	FailureCount   int    `json:"failureCount"`
	SuccessRate    string `json:"successRate"`
}

type EmailStats struct {
	Overview      StatsOverview  `json:"overview"`
	CampaignStats []CampaignStat `json:"campaignStats"`
	TemplateStats []TemplateStat `json:"templateStats"`
	DailyStats    []DailyStat    `json:"dailyStats"`
	Period        string         `json:"period"`
}

// StatsService computes read-only rollups over the campaign log store.
type StatsService struct {
	Logs repository.EmailLogRepositoryInterface
}

// Stats aggregates delivery outcomes for a period token like "7d",
// "30d" or "90d". Unparseable tokens fall back to 30 days.
func (s *StatsService) Stats(ctx context.Context, period string) (*EmailStats, error) {
	days := parsePeriod(period)
	since := time.Now().UTC().AddDate(0, 0, -days)

	totals, err := s.Logs.StatsTotals(ctx, since)
	if err != nil {
		return nil, err
	}
	campaigns, err := s.Logs.CampaignStats(ctx, since)
	if err != nil {
		return nil, err
	}
	templates, err := s.Logs.TemplateStats(ctx, since)
	if err != nil {
		return nil, err
	}
	daily, err := s.Logs.DailyStats(ctx, since)
	if err != nil {
		return nil, err
	}

	stats := &EmailStats{
		Overview: StatsOverview{
			TotalEmailsSent:  totals.Emails,
			TotalRecipients:  totals.Recipients,
			SuccessfulEmails: totals.Success,
			FailedEmails:     totals.Failure,
			SuccessRate:      successRate(totals.Success, totals.Recipients),
		},
		CampaignStats: []CampaignStat{},
		TemplateStats: []TemplateStat{},
		DailyStats:    []DailyStat{},
		Period:        fmt.Sprintf("%dd", days),
	}

	for _, row := range campaigns {
		stats.CampaignStats = append(stats.CampaignStats, CampaignStat{
			Campaign:        row.Campaign,
			Count:           row.Count,
			TotalRecipients: row.Recipients,
			SuccessCount:    row.Success,
		})
	}
	for _, row := range templates {
		stats.TemplateStats = append(stats.TemplateStats, TemplateStat{
			TemplateID:      row.TemplateID,
			TemplateName:    row.Name,
			Count:           row.Count,
			TotalRecipients: row.Recipients,
			SuccessCount:    row.Success,
		})
	}
	for _, row := range daily {
		stats.DailyStats = append(stats.DailyStats, DailyStat{
			Date:           row.Day,
			EmailCount:     row.Count,
			RecipientCount: row.Recipients,
			SuccessCount:   row.Success,
			FailureCount:   row.Failure,
			SuccessRate:    fmt.Sprintf("%.1f", successRate(row.Success, row.Recipients)),
		})
	}
	return stats, nil
}

// successRate is success/recipients*100 to one decimal place, defined
// as 0 when there are no recipients.
func successRate(success, recipients int) float64 {
	if recipients == 0 {
		return 0
	}
	rate := float64(success) / float64(recipients) * 100
	return math.Round(rate*10) / 10
}

func parsePeriod(period string) int {
	trimmed := strings.TrimSuffix(strings.TrimSpace(period), "d")
	if days, err := strconv.Atoi(trimmed); err == nil && days > 0 {
		return days
	}
	return defaultPeriodDays
}
