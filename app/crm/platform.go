// Package crm contains the HTTP client and platform variants for the hosted CRM APIs
package crm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/Susanoo/config"
)

// Platform names as they appear in job keys
const (
	PlatformCRM   = "CRM"
	PlatformBigin = "Bigin"
)

var ErrUnknownPlatform = errors.New("unknown platform")

// Platform is one of the two supported CRM products. The set is closed.
type Platform interface {
	// Name is the canonical platform label used in job keys
	Name() string
	// BaseURL is the REST root for module calls
	BaseURL() string
	// LatestStatus extracts the lowercase status marker from one email history entry
	LatestStatus(entry EmailHistoryEntry) string

	sealed()
}

type crmPlatform struct {
	baseURL string
}

func (p crmPlatform) Name() string    { return PlatformCRM }
func (p crmPlatform) BaseURL() string { return p.baseURL }
func (crmPlatform) sealed()           {}

// LatestStatus reads the status array ([{"type":"sent"}, ...]). A bounce anywhere wins,
// otherwise the last element is the most recent state.
func (p crmPlatform) LatestStatus(entry EmailHistoryEntry) string {
	var items []struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(entry.Status, &items); err != nil || len(items) == 0 {
		return ""
	}
	for _, it := range items {
		if strings.EqualFold(it.Type, "bounced") {
			return "bounced"
		}
	}
	return strings.ToLower(strings.TrimSpace(items[len(items)-1].Type))
}

type biginPlatform struct {
	baseURL string
}

func (p biginPlatform) Name() string    { return PlatformBigin }
func (p biginPlatform) BaseURL() string { return p.baseURL }
func (biginPlatform) sealed()           {}

// LatestStatus reads a plain string status
func (p biginPlatform) LatestStatus(entry EmailHistoryEntry) string {
	var s string
	if err := json.Unmarshal(entry.Status, &s); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// Platforms resolves platform labels to configured variants
type Platforms struct {
	crm   Platform
	bigin Platform
}

// NewPlatforms builds both variants from configuration
func NewPlatforms(cfg config.PlatformsConfig) *Platforms {
	return &Platforms{
		crm:   crmPlatform{baseURL: strings.TrimRight(cfg.CRM.BaseURL, "/")},
		bigin: biginPlatform{baseURL: strings.TrimRight(cfg.Bigin.BaseURL, "/")},
	}
}

// Resolve accepts the canonical label case-insensitively
func (p *Platforms) Resolve(name string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "crm":
		return p.crm, nil
	case "bigin":
		return p.bigin, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
}
