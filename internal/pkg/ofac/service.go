package ofac

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/stablegate/stablegate/app/models"
	"github.com/stablegate/stablegate/app/repository"
)

const (
	// DefaultSDNURL is the published location of the consolidated SDN list.
	DefaultSDNURL = "https://www.treasury.gov/ofac/downloads/sanctions/1.0/sdn_advanced.xml"

	fetchTimeout  = 120 * time.Second
	userAgent     = "Mozilla/5.0 (compatible; sanctions-screening/1.0)"
	insertBatch   = 100
	cacheKey      = "ofac:check:"
	cacheLifetime = time.Hour
)

// ErrUpdateInProgress is returned when a refresh is already running in this
// process.
var ErrUpdateInProgress = errors.New("ofac: update already in progress")

// Cache is the optional lookup accelerator in front of the database.
type Cache interface {
	Set(key string, value any, expiration time.Duration) error
	Get(key string) (string, error)
}

// Service screens addresses against the OFAC SDN list and keeps the local
// copy fresh.
type Service struct {
	repos      *repository.Repositories
	httpClient *http.Client
	sdnURL     string
	cache      Cache
	extractors []extractor
	isUpdating atomic.Bool
	now        func() time.Time
}

// NewService wires the screening service. cache may be nil.
func NewService(repos *repository.Repositories, sdnURL string, c Cache) *Service {
	url := strings.TrimSpace(sdnURL)
	if url == "" {
		url = DefaultSDNURL
	}
	return &Service{
		repos:      repos,
		httpClient: &http.Client{Timeout: fetchTimeout},
		sdnURL:     url,
		cache:      c,
		extractors: []extractor{xmlExtractor{}, regexExtractor{}},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// UpdateResult summarizes one sanctions list refresh.
type UpdateResult struct {
	Total   int64 `json:"total"`
	New     int64 `json:"new"`
	Removed int64 `json:"removed"`
}

// Update fetches the SDN list, extracts digital currency addresses and
// replaces the local set in one transaction. Concurrent invocations within
// the process are rejected.
func (s *Service) Update() (*UpdateResult, error) {
	if !s.isUpdating.CompareAndSwap(false, true) {
		return nil, ErrUpdateInProgress
	}
	defer s.isUpdating.Store(false)

	result, err := s.runUpdate()
	entry := &models.OfacUpdateLog{Success: err == nil}
	if err != nil {
		entry.ErrorMessage = err.Error()
	} else {
		entry.TotalAddresses = int(result.Total)
		entry.NewAddresses = int(result.New)
		entry.RemovedAddresses = int(result.Removed)
	}
	if logErr := s.repos.Ofac.CreateUpdateLog(entry); logErr != nil {
		log.Errorf("[OFAC] record update log: %v", logErr)
	}
	return result, err
}

func (s *Service) runUpdate() (*UpdateResult, error) {
	data, err := s.fetch()
	if err != nil {
		return nil, err
	}

	extracted, err := s.extract(data)
	if err != nil {
		return nil, err
	}
	if len(extracted) == 0 {
		return nil, errors.New("ofac: no digital currency addresses extracted")
	}

	now := s.now()
	rows := make([]models.OfacSanctionedAddress, 0, len(extracted))
	seen := make(map[string]bool, len(extracted))
	for _, e := range extracted {
		key := strings.ToLower(e.Address) + "|" + e.AddressType
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, models.OfacSanctionedAddress{
			Address:      e.Address,
			AddressLower: strings.ToLower(e.Address),
			AddressType:  e.AddressType,
			SDNName:      e.SDNName,
			SDNID:        e.SDNID,
			Source:       models.OfacSourceSDN,
			LastSeenAt:   now,
		})
	}

	previous, err := s.repos.Ofac.ReplaceAll(rows, insertBatch)
	if err != nil {
		return nil, fmt.Errorf("ofac: replace address set: %w", err)
	}

	total := int64(len(rows))
	result := &UpdateResult{Total: total}
	if total > previous {
		result.New = total - previous
	}
	if previous > total {
		result.Removed = previous - total
	}
	log.Infof("[OFAC] refreshed sanctions list: %d addresses (%d new, %d removed)", result.Total, result.New, result.Removed)
	return result, nil
}

func (s *Service) fetch() ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, s.sdnURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ofac: fetch SDN list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ofac: fetch SDN list: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *Service) extract(data []byte) ([]ExtractedAddress, error) {
	var lastErr error
	for _, e := range s.extractors {
		addrs, err := e.Extract(data)
		if err != nil {
			log.Warnf("[OFAC] extractor %s failed: %v", e.Name(), err)
			lastErr = err
			continue
		}
		if len(addrs) > 0 {
			log.Infof("[OFAC] extractor %s yielded %d addresses", e.Name(), len(addrs))
			return addrs, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

// CheckResult is the outcome of one address screening.
type CheckResult struct {
	IsSanctioned   bool                            `json:"is_sanctioned"`
	MatchedEntries []models.OfacSanctionedAddress  `json:"matched_entries,omitempty"`
	CheckedAt      time.Time                       `json:"checked_at"`
}

// CheckAddress screens an address by exact match on its lower-cased form.
// The same string listed on several chains returns all matches.
func (s *Service) CheckAddress(address string) (*CheckResult, error) {
	lower := strings.ToLower(strings.TrimSpace(address))
	result := &CheckResult{CheckedAt: s.now()}
	if lower == "" {
		return result, nil
	}

	if s.cache != nil {
		if cached, err := s.cache.Get(cacheKey + lower); err == nil && cached == "clean" {
			return result, nil
		}
	}

	matches, err := s.repos.Ofac.FindByAddressLower(lower)
	if err != nil {
		return nil, fmt.Errorf("ofac: lookup %s: %w", lower, err)
	}
	if len(matches) == 0 {
		if s.cache != nil {
			if err := s.cache.Set(cacheKey+lower, "clean", cacheLifetime); err != nil {
				log.Debugf("[OFAC] cache set: %v", err)
			}
		}
		return result, nil
	}

	result.IsSanctioned = true
	result.MatchedEntries = matches
	return result, nil
}

// SanctionedNames returns the SDN names listed for the address, empty when
// clean.
func (s *Service) SanctionedNames(address string) ([]string, error) {
	res, err := s.CheckAddress(address)
	if err != nil {
		return nil, err
	}
	if !res.IsSanctioned {
		return nil, nil
	}
	names := make([]string, 0, len(res.MatchedEntries))
	for _, m := range res.MatchedEntries {
		names = append(names, m.SDNName)
	}
	return names, nil
}

// Status describes the current state of the local sanctions data.
type Status struct {
	TotalAddresses    int64            `json:"total_addresses"`
	AddressTypes      map[string]int64 `json:"address_types"`
	LastUpdate        *time.Time       `json:"last_update,omitempty"`
	LastUpdateSuccess bool             `json:"last_update_success"`
	LastUpdateError   string           `json:"last_update_error,omitempty"`
	UpdateInProgress  bool             `json:"update_in_progress"`
}

// GetStatus reports totals, per-chain counts and the last refresh outcome.
func (s *Service) GetStatus() (*Status, error) {
	total, err := s.repos.Ofac.Count()
	if err != nil {
		return nil, err
	}
	byType, err := s.repos.Ofac.CountByType()
	if err != nil {
		return nil, err
	}
	status := &Status{
		TotalAddresses:   total,
		AddressTypes:     byType,
		UpdateInProgress: s.isUpdating.Load(),
	}
	last, err := s.repos.Ofac.LastUpdateLog()
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return status, nil
	}
	t := last.CreatedAt
	status.LastUpdate = &t
	status.LastUpdateSuccess = last.Success
	status.LastUpdateError = last.ErrorMessage
	return status, nil
}

// EnsureSeeded refreshes the list at startup when the local set is empty.
func (s *Service) EnsureSeeded() {
	count, err := s.repos.Ofac.Count()
	if err != nil {
		log.Errorf("[OFAC] count addresses: %v", err)
		return
	}
	if count > 0 {
		return
	}
	log.Info("[OFAC] sanctions set empty, running initial refresh")
	if _, err := s.Update(); err != nil {
		log.Errorf("[OFAC] initial refresh: %v", err)
	}
}
