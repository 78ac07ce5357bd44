package domain

import (
	"time"
)

const (
	DefaultEndpoint   = "/api/query"
	DefaultAPIService = "default"
	DefaultQueryType  = "query"
)

// ReportRequest is one billable event reported by a downstream product.
type ReportRequest struct {
	APIKey         string         `json:"apiKey"`
	CreditsUsed    int64          `json:"creditsUsed"`
	Endpoint       string         `json:"endpoint"`
	APIService     string         `json:"apiService"`
	QueryType      string         `json:"queryType"`
	Status         string         `json:"status"`
	ResponseTimeMs *int64         `json:"responseTime"`
	Metadata       map[string]any `json:"metadata"`
}

type ReportResult struct {
	RemainingCredits int64     `json:"remainingCredits"`
	CreditsUsed      int64     `json:"creditsUsed"`
	Endpoint         string    `json:"endpoint"`
	QueryType        string    `json:"queryType"`
	UsageDateTime    time.Time `json:"usageDateTime"`
}

type QueryTypeUsage struct {
	QueryType string `json:"queryType" gorm:"column:query_type"`
	Requests  int64  `json:"requests" gorm:"column:requests"`
	Credits   int64  `json:"credits" gorm:"column:credits"`
}

type UserUsage struct {
	UserID   string `json:"userId" gorm:"column:user_id"`
	Email    string `json:"email" gorm:"column:email"`
	Requests int64  `json:"requests" gorm:"column:requests"`
	Credits  int64  `json:"credits" gorm:"column:credits"`
}

// Stats summarises consumption over a trailing window.
type Stats struct {
	Since         time.Time        `json:"since"`
	TotalRequests int64            `json:"totalRequests"`
	TotalCredits  int64            `json:"totalCredits"`
	ByQueryType   []QueryTypeUsage `json:"byQueryType"`
	TopUsers      []UserUsage      `json:"topUsers"`
}
